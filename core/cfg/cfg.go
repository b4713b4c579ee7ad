package cfg

import (
	"github.com/ftl/hamradio/cfg"

	"github.com/ftl/cogcal/core"
)

const (
	testmode           cfg.Key = "cogcal.testmode"
	port               cfg.Key = "cogcal.port"
	baudRate           cfg.Key = "cogcal.baudRate"
	attempts           cfg.Key = "cogcal.attempts"
	samplesPerPoint    cfg.Key = "cogcal.samplesPerPoint"
	absoluteTolerance  cfg.Key = "cogcal.absoluteTolerance"
	tolerance          cfg.Key = "cogcal.tolerance"
	filterEnabled      cfg.Key = "cogcal.filter.enabled"
	commonCutoff       cfg.Key = "cogcal.filter.commonCutoff"
	differentialCutoff cfg.Key = "cogcal.filter.differentialCutoff"
	mqttBroker         cfg.Key = "cogcal.mqtt.broker"
	mqttTopic          cfg.Key = "cogcal.mqtt.topic"
)

// Load the configuration from the default hamradio configuration file.
func Load() (core.Configuration, error) {
	configuration, err := cfg.LoadDefault()
	if err != nil {
		return core.Configuration{}, err
	}
	return fromValues(configuration.Get), nil
}

// Static returns the default configuration, used when no configuration file is available.
func Static() core.Configuration {
	return fromValues(func(_ cfg.Key, defaultValue interface{}) interface{} {
		return defaultValue
	})
}

type getter func(key cfg.Key, defaultValue interface{}) interface{}

// fromValues maps the configuration values. Numbers come as float64 from the JSON file.
func fromValues(get getter) core.Configuration {
	defaults := core.DefaultConfiguration()
	result := core.Configuration{
		Testmode: get(testmode, defaults.Testmode).(bool),
		Port:     get(port, defaults.Port).(string),
		BaudRate: int(get(baudRate, float64(defaults.BaudRate)).(float64)),
		Params: core.CalibrationParams{
			Attempts:          uint16(get(attempts, float64(defaults.Params.Attempts)).(float64)),
			SamplesPerPoint:   uint16(get(samplesPerPoint, float64(defaults.Params.SamplesPerPoint)).(float64)),
			AbsoluteTolerance: get(absoluteTolerance, defaults.Params.AbsoluteTolerance).(float64),
			Tolerance:         get(tolerance, defaults.Params.Tolerance).(float64),
		},
		Filter: core.Filter{
			Enabled:            get(filterEnabled, defaults.Filter.Enabled).(bool),
			CommonCutoff:       int(get(commonCutoff, float64(defaults.Filter.CommonCutoff)).(float64)),
			DifferentialCutoff: int(get(differentialCutoff, float64(defaults.Filter.DifferentialCutoff)).(float64)),
		},
		MQTTBroker: get(mqttBroker, defaults.MQTTBroker).(string),
		MQTTTopic:  get(mqttTopic, defaults.MQTTTopic).(string),
	}
	if result.Filter.Valid() != nil {
		result.Filter = defaults.Filter
	}
	return result
}
