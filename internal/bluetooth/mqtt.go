package bluetooth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/models"
)

// 移动端伴侣应用发布的主题
const (
	TopicBluetoothEvents = "milegazer/bluetooth/events"
	TopicLocationSamples = "milegazer/location/samples"
)

// SampleSink 定位采样接收方
type SampleSink interface {
	Push(sample *models.LocationSample)
}

// MQTTSource 通过 MQTT 接收移动端上报的蓝牙事件和定位采样
type MQTTSource struct {
	logger  *zap.Logger
	client  mqtt.Client
	handler EventHandler
	sink    SampleSink
}

// NewMQTTSource 创建 MQTT 来源并连接 broker
func NewMQTTSource(logger *zap.Logger, brokerURL, clientID string, handler EventHandler, sink SampleSink) (*MQTTSource, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout: %s", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return &MQTTSource{
		logger:  logger,
		client:  client,
		handler: handler,
		sink:    sink,
	}, nil
}

// Run 订阅主题并投递消息直到 ctx 取消
func (s *MQTTSource) Run(ctx context.Context) error {
	if token := s.client.Subscribe(TopicBluetoothEvents, 1, s.onBluetoothMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", TopicBluetoothEvents, token.Error())
	}
	if token := s.client.Subscribe(TopicLocationSamples, 1, s.onLocationMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", TopicLocationSamples, token.Error())
	}

	s.logger.Info("MQTT source subscribed",
		zap.String("bluetooth_topic", TopicBluetoothEvents),
		zap.String("location_topic", TopicLocationSamples))

	<-ctx.Done()
	s.client.Disconnect(250)
	return ctx.Err()
}

// onBluetoothMessage 蓝牙事件消息回调
func (s *MQTTSource) onBluetoothMessage(_ mqtt.Client, msg mqtt.Message) {
	event := &Event{}
	if err := json.Unmarshal(msg.Payload(), event); err != nil {
		s.logger.Warn("Dropping malformed bluetooth event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := Dispatch(ctx, s.handler, event); err != nil {
		s.logger.Error("Failed to handle bluetooth event",
			zap.String("type", event.Type),
			zap.String("device_id", event.DeviceID),
			zap.Error(err))
	}
}

// onLocationMessage 定位采样消息回调
func (s *MQTTSource) onLocationMessage(_ mqtt.Client, msg mqtt.Message) {
	sample := &models.LocationSample{}
	if err := json.Unmarshal(msg.Payload(), sample); err != nil {
		s.logger.Warn("Dropping malformed location sample", zap.Error(err))
		return
	}
	s.sink.Push(sample)
}
