package dreame

import (
	"github.com/olebedev/emitter"
)

// Event topics emitted by EventListener. Every event carries the device id
// as its first argument and the new value as its second.
const (
	TopicCharging = "charging"
	TopicCleaning = "cleaning"
	TopicFanSpeed = "fanSpeed"
	TopicError    = "error"
)

// EventListener publishes notifications on an event emitter so several
// consumers can observe one device.
type EventListener struct {
	deviceID string
	events   *emitter.Emitter
}

func NewEventListener(deviceID string) *EventListener {
	e := &emitter.Emitter{}
	// callbacks only, nobody drains the channels
	e.Use("*", emitter.Void)
	return &EventListener{deviceID: deviceID, events: e}
}

// On registers callback for topic. Patterns such as "*" are accepted.
func (l *EventListener) On(topic string, callback func(*emitter.Event)) {
	l.events.On(topic, callback)
}

func (l *EventListener) Off(topic string) {
	l.events.Off(topic)
}

func (l *EventListener) OnChargingChanged(charging bool) {
	l.events.Emit(TopicCharging, l.deviceID, charging)
}

func (l *EventListener) OnCleaningChanged(cleaning bool) {
	l.events.Emit(TopicCleaning, l.deviceID, cleaning)
}

func (l *EventListener) OnFanSpeedChanged(speed any) {
	l.events.Emit(TopicFanSpeed, l.deviceID, speed)
}

func (l *EventListener) OnError(fault any) {
	l.events.Emit(TopicError, l.deviceID, fault)
}
