package service

import (
	"time"

	"github.com/spf13/viper"
)

// Options tune how runs are executed. They come from flags, DRIVERPACK_*
// environment variables or the runtime section of a viper config.
type Options struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	WaitDelay   time.Duration `mapstructure:"wait_delay"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	ScratchDir  string        `mapstructure:"scratch_dir"`
	Parallel    int           `mapstructure:"parallel"`
}

func ParseOptions(v *viper.Viper) (Options, error) {
	var opts Options
	err := v.Unmarshal(&opts)
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	return opts, err
}

// CoordinatorOptions returns the coordinator settings carried by o.
func (o Options) CoordinatorOptions() []CoordinatorOption {
	var ret []CoordinatorOption
	if o.Timeout > 0 {
		ret = append(ret, WithTimeout(o.Timeout))
	}
	if o.WaitDelay > 0 {
		ret = append(ret, WithWaitDelay(o.WaitDelay))
	}
	return ret
}
