package services

// nopMetrics is the default sink when no collector is wired, for example in
// tests.
type nopMetrics struct{}

func (nopMetrics) SetSessionsActive(int)        {}
func (nopMetrics) SetParticipantsConnected(int) {}
func (nopMetrics) IncControlMessages(string)    {}
func (nopMetrics) AddPacketsRouted(int)         {}
func (nopMetrics) IncPacketsDropped(string)     {}
func (nopMetrics) IncStaleChannelsReaped()      {}
func (nopMetrics) ObserveFanoutSize(int)        {}
