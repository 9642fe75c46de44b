package service

import (
	"context"
	"encoding/json"
	"facility_sync/internal/domain"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/google/uuid"
)

// IoTGateCommander đẩy lệnh open/close đã commit xuống barrier controller
// qua AWS IoT Data Plane (MQTT). Mỗi gate lắng nghe topic riêng theo ID.
type IoTGateCommander struct {
	iotDataClient *iotdataplane.Client
	topicPrefix   string
}

func NewIoTGateCommander(client *iotdataplane.Client, topicPrefix string) *IoTGateCommander {
	if topicPrefix == "" {
		topicPrefix = "facility_sync"
	}
	return &IoTGateCommander{iotDataClient: client, topicPrefix: topicPrefix}
}

func (c *IoTGateCommander) SendGateCommand(ctx context.Context, gate *domain.Gate, open bool) error {
	command := "close"
	if open {
		command = "open"
	}
	topic := fmt.Sprintf("%s/command/gates/%d", c.topicPrefix, gate.ID)

	payload := domain.GateControlCommandPayload{
		Command:   command,
		RequestID: uuid.NewString(),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("lỗi marshal payload lệnh gate: %w", err)
	}

	log.Printf("IoTGateCommander: Đang publish lệnh '%s' (ReqID: %s) tới topic %s", command, payload.RequestID, topic)
	_, err = c.iotDataClient.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(topic),
		Qos:     1,
		Payload: payloadBytes,
	})
	if err != nil {
		return fmt.Errorf("lỗi publish lệnh MQTT: %w", err)
	}
	return nil
}
