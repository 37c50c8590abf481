/*
 * MIT License
 *
 * Copyright (c) 2024 Sabouaram
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package config is the server's configuration surface: a struct tagged
// for viper's mapstructure decoding and go-playground/validator
// validation, the way nabbar-golib/httpserver.ServerConfig is built,
// condensed to the knobs the server supervisor (spec §4.8) and
// connection engine (spec §4.5, §4.6) need.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	liberr "github.com/sabouaram/asgid/errors"
	"github.com/sabouaram/asgid/lifespan"
)

// TLS is the certificate-pair subset of spec §6's --ssl-* flags.
type TLS struct {
	CertFile string `mapstructure:"cert-file" validate:"required_with=KeyFile,omitempty,file"`
	KeyFile  string `mapstructure:"key-file" validate:"required_with=CertFile,omitempty,file"`
}

// Config is the full server configuration (spec §6, §9).
type Config struct {
	Host string `mapstructure:"host" validate:"required_without_all=UDS FD,omitempty,hostname|ip"`
	Port int    `mapstructure:"port" validate:"min=0,max=65535"`
	UDS  string `mapstructure:"uds" validate:"omitempty,filepath"`
	FD   int    `mapstructure:"fd" validate:"omitempty,min=1"`

	TLS TLS `mapstructure:"tls"`

	WSEnabled bool `mapstructure:"ws-enabled"`

	LifespanMode string `mapstructure:"lifespan" validate:"omitempty,oneof=on off auto"`

	HighWaterBytes       int `mapstructure:"high-water" validate:"omitempty,min=1"`
	LowWaterBytes        int `mapstructure:"low-water" validate:"omitempty,min=1,ltefield=HighWaterBytes"`
	MaxPipelinedRequests int `mapstructure:"max-pipelined-requests" validate:"omitempty,min=1"`
	MaxHeadBytes         int `mapstructure:"max-head-bytes" validate:"omitempty,min=1"`

	TimeoutKeepAliveSeconds int `mapstructure:"timeout-keep-alive" validate:"omitempty,min=0"`
	TimeoutGracefulSeconds  int `mapstructure:"timeout-graceful-shutdown" validate:"omitempty,min=0"`

	LimitConcurrency int `mapstructure:"limit-concurrency" validate:"omitempty,min=1"`
	LimitMaxRequests int `mapstructure:"limit-max-requests" validate:"omitempty,min=1"`

	IngressRateLimit float64 `mapstructure:"limit-ingress-rate" validate:"omitempty,min=0"`
	IngressRateBurst int     `mapstructure:"limit-ingress-burst" validate:"omitempty,min=1"`

	RootPath     string   `mapstructure:"root-path"`
	ProxyHeaders bool     `mapstructure:"proxy-headers"`
	ForwardedFor []string `mapstructure:"forwarded-allow-ips"`

	ServerHeader bool   `mapstructure:"server-header"`
	DateHeader   bool   `mapstructure:"date-header"`
	AccessLog    bool   `mapstructure:"access-log"`
	LogLevel     string `mapstructure:"log-level" validate:"omitempty,oneof=trace debug info warn error"`
}

// Default returns a Config with every field at the values spec §6/§9
// document as uvicorn-equivalent defaults.
func Default() Config {
	return Config{
		Host:                    "127.0.0.1",
		Port:                    8000,
		LifespanMode:            string(lifespan.ModeAuto),
		HighWaterBytes:          65536,
		LowWaterBytes:           16384,
		MaxPipelinedRequests:    20,
		MaxHeadBytes:            16 * 1024,
		TimeoutKeepAliveSeconds: 5,
		TimeoutGracefulSeconds:  30,
		ServerHeader:            true,
		DateHeader:              true,
		LogLevel:                "info",
	}
}

// Load reads configuration from file/env/flags via viper (bound by the
// cmd package) and validates it with go-playground/validator, the same
// two-step nabbar-golib/config's manage.go performs before a component
// can start.
func Load(v *viper.Viper) (Config, liberr.Error) {
	cfg := Default()

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, liberr.Wrap(liberr.CodeConfig, "decode configuration", err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate runs struct-tag validation and folds every field error into
// one Error, the way nabbar-golib reports config validation failures.
func Validate(cfg Config) liberr.Error {
	val := validator.New()

	if err := val.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return liberr.Wrap(liberr.CodeConfig, "validate configuration", err)
		}

		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
		}

		return liberr.New(liberr.CodeConfig, "invalid configuration: "+strings.Join(msgs, "; "))
	}

	return nil
}
