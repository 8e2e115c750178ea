package services

import "time"

// NopMetricsRecorder discards everything.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) ConnectionOpened()              {}
func (NopMetricsRecorder) ConnectionClosed(time.Duration) {}
func (NopMetricsRecorder) Registered(int)                 {}
func (NopMetricsRecorder) SignalRelayed(string)           {}
func (NopMetricsRecorder) SignalDropped(string, string)   {}
func (NopMetricsRecorder) PresenceBroadcast(int)          {}
func (NopMetricsRecorder) ConnectionEvicted(string)       {}
func (NopMetricsRecorder) SweepCompleted(time.Duration)   {}
