package singleinstance

import "github.com/hashicorp/go-metrics"

var (
	MetricFramesBytes       = []string{"singleinstance", "channel", "in", "bytes"}
	MetricMessagesCount     = []string{"singleinstance", "message", "completed", "count"}
	MetricMessagesDropCount = []string{"singleinstance", "message", "dropped", "count"}
	MetricForwardCount      = []string{"singleinstance", "forward", "count"}
	MetricReopenCount       = []string{"singleinstance", "channel", "reopen", "count"}
	MetricInterruptCount    = []string{"singleinstance", "interrupt", "count"}
)

const MLabelApp = "app"

func (c *config) incr(key []string, val float32, app string) {
	labels := append(c.metricLabels[:len(c.metricLabels):len(c.metricLabels)], metrics.Label{Name: MLabelApp, Value: app})
	c.sink.IncrCounterWithLabels(key, val, labels)
}
