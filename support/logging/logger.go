// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package logging defines the logging interface used throughout this
// repository.
package logging

// L accepts logging data.
//
// L is designed to automatically conform to zap's zap.SugaredLogger, but is
// generic enough that any logger should be able to match it.
type L interface {
	// Error emits an error-level log.
	Error(args ...interface{})
	// Warn emits a warning-level log.
	Warn(args ...interface{})
	// Info emits an info-level log.
	Info(args ...interface{})
	// Debug emits a debug-level log.
	Debug(args ...interface{})

	// Errorf emits an error-level log.
	Errorf(fmt string, args ...interface{})
	// Warnf emits a warning-level log.
	Warnf(fmt string, args ...interface{})
	// Infof emits an info-level log.
	Infof(fmt string, args ...interface{})
	// Debugf emits a debug-level log.
	Debugf(fmt string, args ...interface{})
}

// Nop is a L instance that does nothing.
var Nop L = nopLogger{}

// Must ensures that a valid L is available. If l is not nil, it will be
// returned; otherwise, Must will return Nop.
func Must(l L) L {
	if l != nil {
		return l
	}
	return Nop
}

// Prefixed returns an L that prepends prefix to every message sent through l.
func Prefixed(l L, prefix string) L {
	return &prefixedLogger{base: Must(l), prefix: prefix}
}

type nopLogger struct{}

func (nopLogger) Error(args ...interface{}) {}
func (nopLogger) Warn(args ...interface{})  {}
func (nopLogger) Info(args ...interface{})  {}
func (nopLogger) Debug(args ...interface{}) {}

func (nopLogger) Errorf(fmt string, args ...interface{}) {}
func (nopLogger) Warnf(fmt string, args ...interface{})  {}
func (nopLogger) Infof(fmt string, args ...interface{})  {}
func (nopLogger) Debugf(fmt string, args ...interface{}) {}

type prefixedLogger struct {
	base   L
	prefix string
}

func (p *prefixedLogger) args(args []interface{}) []interface{} {
	return append([]interface{}{p.prefix}, args...)
}

func (p *prefixedLogger) Error(args ...interface{}) { p.base.Error(p.args(args)...) }
func (p *prefixedLogger) Warn(args ...interface{})  { p.base.Warn(p.args(args)...) }
func (p *prefixedLogger) Info(args ...interface{})  { p.base.Info(p.args(args)...) }
func (p *prefixedLogger) Debug(args ...interface{}) { p.base.Debug(p.args(args)...) }

func (p *prefixedLogger) Errorf(f string, args ...interface{}) {
	p.base.Errorf("%s "+f, p.args(args)...)
}
func (p *prefixedLogger) Warnf(f string, args ...interface{}) {
	p.base.Warnf("%s "+f, p.args(args)...)
}
func (p *prefixedLogger) Infof(f string, args ...interface{}) {
	p.base.Infof("%s "+f, p.args(args)...)
}
func (p *prefixedLogger) Debugf(f string, args ...interface{}) {
	p.base.Debugf("%s "+f, p.args(args)...)
}
