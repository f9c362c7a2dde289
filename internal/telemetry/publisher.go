// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/relabs-tech/gesture_lock/internal/gesture"
	"github.com/relabs-tech/gesture_lock/internal/lock"
)

// Client is the subset of mqtt.Client used here.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Topics names the MQTT topics of one lock.
type Topics struct {
	State   string
	Outcome string
	Fault   string
	Command string
}

const publishTimeout = 5 * time.Second

// Connect dials broker with auto-reconnect enabled.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: connect %s: %w", broker, token.Error())
	}
	glog.Infof("telemetry: connected to MQTT broker at %s as %s", broker, clientID)
	return client, nil
}

// Publisher implements lock.Observer. It never waits on the broker: each
// publish token is checked on its own goroutine.
type Publisher struct {
	client Client
	topics Topics
	now    func() time.Time
}

var _ lock.Observer = (*Publisher)(nil)

// NewPublisher creates a publisher on client.
func NewPublisher(client Client, topics Topics) *Publisher {
	return &Publisher{client: client, topics: topics, now: time.Now}
}

func (p *Publisher) StateChanged(from, to lock.State) {
	e := newEvent(KindState, p.now())
	e.State = to.String()
	e.From = from.String()
	p.publish(p.topics.State, true, e)
}

func (p *Publisher) Recorded(samples int, err error) {
	e := newEvent(KindRecorded, p.now())
	e.Samples = samples
	if err != nil {
		e.Error = err.Error()
	}
	p.publish(p.topics.Outcome, false, e)
}

func (p *Publisher) Compared(out gesture.Outcome) {
	e := newEvent(KindOutcome, p.now())
	e.Outcome = &out
	p.publish(p.topics.Outcome, false, e)
}

func (p *Publisher) Faulted(err error) {
	e := newEvent(KindFault, p.now())
	e.Error = err.Error()
	p.publish(p.topics.Fault, false, e)
}

func (p *Publisher) publish(topic string, retained bool, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		glog.Errorf("telemetry: marshal %s event: %v", e.Kind, err)
		return
	}
	token := p.client.Publish(topic, 0, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			glog.Warningf("telemetry: publish to %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			glog.Warningf("telemetry: publish to %s: %v", topic, err)
		}
	}()
}

// Watch subscribes to the state, outcome and fault topics and calls fn with
// every decoded event. fn runs on the MQTT client's goroutine.
func Watch(client Client, topics Topics, fn func(topic string, e Event)) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		e, err := Decode(msg.Payload())
		if err != nil {
			glog.Warningf("telemetry: %s: %v", msg.Topic(), err)
			return
		}
		fn(msg.Topic(), e)
	}
	for _, topic := range []string{topics.State, topics.Outcome, topics.Fault} {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("telemetry: subscribe %s: %w", topic, err)
		}
		glog.V(1).Infof("telemetry: subscribed to %s", topic)
	}
	return nil
}
