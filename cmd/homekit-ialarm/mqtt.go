package main

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	ialarm "github.com/caarlos0/homekit-ialarm"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"

	mqttQOS     = 1
	publishWait = 5 * time.Second
)

// mqttUser is the user id recorded for changes made over MQTT.
const mqttUser = "mqtt"

type topics struct {
	prefix string
}

func (t topics) status() string  { return t.prefix + "/status" }
func (t topics) alarm() string   { return t.prefix + "/alarm" }
func (t topics) command() string { return t.prefix + "/alarm/set" }
func (t topics) event() string   { return t.prefix + "/event" }

func (t topics) zone(zc zoneConfig) string {
	return fmt.Sprintf("%s/zone/%d-%s", t.prefix, zc.zone.Number(), slugify(zc.name))
}

var slugReplacer = regexp.MustCompile("[^a-z0-9]+")

func slugify(s string) string {
	s = strings.ToLower(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, _ = transform.String(t, s)
	s = slugReplacer.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

type modeSetter func(p panelController, ctx context.Context, userID string) error

var mqttCommands = map[string]modeSetter{
	"arm_away":    panelController.ArmAway,
	"arm_stay":    panelController.ArmStay,
	"arm_partial": panelController.ArmPartial,
	"disarm":      panelController.Disarm,
	"cancel":      panelController.CancelAlarm,
}

// Publisher mirrors the panel state into MQTT and accepts mode changes on
// the command topic.
type Publisher struct {
	cfg    MQTTConfig
	panel  panelController
	topics topics
	client mqtt.Client
}

func NewPublisher(cfg MQTTConfig, panel panelController) *Publisher {
	return &Publisher{
		cfg:    cfg,
		panel:  panel,
		topics: topics{prefix: strings.TrimSuffix(cfg.Prefix, "/")},
	}
}

func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetUsername(p.cfg.Username)
	opts.SetPassword(p.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error("mqtt connection lost", "err", err)
	})
	opts.SetWill(p.topics.status(), offlinePayload, mqttQOS, true)

	p.client = mqtt.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("could not connect to mqtt broker: %w", token.Error())
	}
	log.Info("connected to mqtt broker", "broker", p.cfg.Broker)
	return nil
}

func (p *Publisher) onConnect(client mqtt.Client) {
	p.publishRaw(p.topics.status(), []byte(onlinePayload), true)
	token := client.Subscribe(p.topics.command(), mqttQOS, p.handleCommand)
	if token.Wait() && token.Error() != nil {
		log.Error("could not subscribe", "topic", p.topics.command(), "err", token.Error())
		return
	}
	log.Debug("subscribed", "topic", p.topics.command())
	p.PublishStatus(p.panel.Status())
}

func (p *Publisher) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	command := strings.TrimSpace(string(msg.Payload()))
	fn, ok := mqttCommands[command]
	if !ok {
		log.Warn("unknown mqtt command", "command", command)
		return
	}
	// handlers must not block the paho router
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		log.Info("mqtt command", "command", command)
		if err := fn(p.panel, ctx, mqttUser); err != nil {
			log.Error("mqtt command failed", "command", command, "err", err)
		}
	}()
}

type statusMessage struct {
	Status string    `json:"status"`
	Source string    `json:"source"`
	User   string    `json:"user,omitempty"`
	Time   time.Time `json:"time"`
}

func (p *Publisher) PublishStatus(upd ialarm.StatusUpdate) {
	p.publish(p.topics.alarm(), statusMessage{
		Status: upd.Status.String(),
		Source: upd.Source.String(),
		User:   upd.UserID,
		Time:   upd.Time,
	}, true)
}

type eventMessage struct {
	Cid         int       `json:"cid"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	User        string    `json:"user,omitempty"`
	Zone        int       `json:"zone,omitempty"`
	ZoneName    string    `json:"zone_name,omitempty"`
	Content     string    `json:"content,omitempty"`
	Time        time.Time `json:"time"`
}

func newEventMessage(e ialarm.Event) eventMessage {
	msg := eventMessage{
		Cid:         e.Cid,
		Description: e.Description(),
		Status:      e.Status.String(),
		User:        e.User,
		ZoneName:    e.ZoneName,
		Content:     e.Content,
		Time:        e.Time,
	}
	if e.Zone >= 0 {
		msg.Zone = e.Zone
	}
	return msg
}

func (p *Publisher) PublishEvent(e ialarm.Event) {
	p.publish(p.topics.event(), newEventMessage(e), false)
}

type zoneMessage struct {
	Number   int    `json:"number"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	State    string `json:"state"`
	Bypassed bool   `json:"bypassed"`
	Battery  bool   `json:"low_battery"`
}

func newZoneMessage(zc zoneConfig, state ialarm.ZoneState) zoneMessage {
	return zoneMessage{
		Number:   zc.zone.Number(),
		Name:     zc.name,
		Type:     zc.zone.TypeName(),
		State:    state.Condition().String(),
		Bypassed: state.Has(ialarm.ZoneBypass),
		Battery:  state.Has(ialarm.ZoneLowBattery),
	}
}

func (p *Publisher) PublishZones(zones []zoneConfig, states []ialarm.ZoneState) {
	for _, zc := range zones {
		if zc.zone.Index >= len(states) {
			continue
		}
		p.publish(p.topics.zone(zc), newZoneMessage(zc, states[zc.zone.Index]), true)
	}
}

func (p *Publisher) publish(topic string, message interface{}, retain bool) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Error("could not marshal mqtt message", "topic", topic, "err", err)
		return
	}
	p.publishRaw(topic, payload, retain)
}

func (p *Publisher) publishRaw(topic string, payload []byte, retain bool) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(topic, mqttQOS, retain, payload)
	if !token.WaitTimeout(publishWait) {
		log.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Error("could not publish", "topic", topic, "err", err)
		return
	}
	log.Debug("published", "topic", topic)
}

func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.publishRaw(p.topics.status(), []byte(offlinePayload), true)
		p.client.Disconnect(250)
	}
}
