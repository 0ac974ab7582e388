// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package config loads a modbus.Config from a YAML/TOML/JSON file or the
// environment, the way ffutop-modbus-gateway's internal/config package
// loads its gateway configuration: through a viper.Viper instance with
// explicit defaults and a post-load fixup pass.
package config

import (
	"fmt"
	"strings"

	"github.com/fieldbus-go/modbusrtu"
	"github.com/spf13/viper"
)

// FileConfig is the on-disk shape for one connection's settings,
// mapstructure-tagged for viper.Unmarshal and mirroring modbus.Config
// field-for-field.
type FileConfig struct {
	Port                      string  `mapstructure:"port"`
	BaudRate                  int     `mapstructure:"baud_rate"`
	DataBits                  int     `mapstructure:"data_bits"`
	Parity                    string  `mapstructure:"parity"`
	StopBits                  int     `mapstructure:"stop_bits"`
	TimeoutSeconds            float64 `mapstructure:"timeout_seconds"`
	UnitIDDefault             uint8   `mapstructure:"unit_id_default"`
	Retries                   uint8   `mapstructure:"retries"`
	InterFrameDelayMS         uint32  `mapstructure:"inter_frame_delay_ms"`
	LenientCRC                bool    `mapstructure:"lenient_crc"`
	LenientFunctionCode       bool    `mapstructure:"lenient_function_code"`
	LenientUnitID             bool    `mapstructure:"lenient_unit_id"`
	StateTracking             bool    `mapstructure:"state_tracking"`
	VendorReadHoldingFallback bool    `mapstructure:"vendor_read_holding_fallback"`
}

// Load reads connection settings from configFile (any format viper
// supports by extension) and returns the equivalent modbus.Config, with
// §6's defaults applied to any field the file does not set.
func Load(configFile string) (modbus.Config, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetDefault("data_bits", 8)
	v.SetDefault("parity", "N")
	v.SetDefault("stop_bits", 1)
	v.SetDefault("timeout_seconds", 1.0)
	v.SetDefault("unit_id_default", 1)
	v.SetDefault("retries", 2)
	v.SetDefault("lenient_function_code", true)
	v.SetDefault("state_tracking", true)

	if err := v.ReadInConfig(); err != nil {
		return modbus.Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return modbus.Config{}, fmt.Errorf("config: unmarshal %s: %w", configFile, err)
	}

	cfg := toModbusConfig(fc)
	if err := cfg.Validate(); err != nil {
		return modbus.Config{}, err
	}
	return cfg, nil
}

func toModbusConfig(fc FileConfig) modbus.Config {
	return modbus.Config{
		Port:                      fc.Port,
		BaudRate:                  fc.BaudRate,
		DataBits:                  fc.DataBits,
		Parity:                    strings.ToUpper(fc.Parity),
		StopBits:                  fc.StopBits,
		TimeoutSeconds:            fc.TimeoutSeconds,
		UnitIDDefault:             fc.UnitIDDefault,
		Retries:                   fc.Retries,
		InterFrameDelayMS:         fc.InterFrameDelayMS,
		LenientCRC:                fc.LenientCRC,
		LenientFunctionCode:       fc.LenientFunctionCode,
		LenientUnitID:             fc.LenientUnitID,
		StateTracking:             fc.StateTracking,
		VendorReadHoldingFallback: fc.VendorReadHoldingFallback,
	}
}
