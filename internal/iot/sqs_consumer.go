package iot

import (
	"context"
	"encoding/json"
	"errors"
	"facility_sync/internal/config"
	"facility_sync/internal/domain"
	"facility_sync/internal/repository"
	"facility_sync/internal/service"
	"facility_sync/internal/store"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSCommandConsumer nhận các CommandEnvelope từ hệ thống nội bộ của facility
// (kiosk, đầu đọc thẻ tại gate) và đưa vào cùng một đường SubmitCommand với
// HTTP. Lỗi transient giữ message lại cho redelivery (at-least-once); lệnh bị
// từ chối bởi quy tắc nghiệp vụ thì xóa luôn — retry không đổi được kết quả.
type SQSCommandConsumer struct {
	sqsClient   *sqs.Client
	queueURL    string
	syncService *service.SyncService
}

func NewSQSCommandConsumer(client *sqs.Client, cfg *config.Config, syncService *service.SyncService) *SQSCommandConsumer {
	return &SQSCommandConsumer{
		sqsClient:   client,
		queueURL:    cfg.SQSCommandQueueURL,
		syncService: syncService,
	}
}

func (c *SQSCommandConsumer) Start(ctx context.Context) {
	log.Printf("SQS Consumer đang bắt đầu lắng nghe queue: %s", c.queueURL)
	for {
		select {
		case <-ctx.Done():
			log.Println("SQS Consumer: context cancelled, stopping.")
			return
		default:
			receiveInput := &sqs.ReceiveMessageInput{
				QueueUrl:            &c.queueURL,
				MaxNumberOfMessages: 10,
				WaitTimeSeconds:     20,
				VisibilityTimeout:   60,
			}

			result, err := c.sqsClient.ReceiveMessage(ctx, receiveInput)
			if err != nil {
				log.Printf("SQS Consumer: Lỗi khi nhận message: %v", err)
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					log.Println("SQS Consumer: context cancelled while waiting for retry.")
					return
				}
				continue
			}

			if len(result.Messages) == 0 {
				continue
			}

			log.Printf("SQS Consumer: Đã nhận %d message(s)", len(result.Messages))

			for _, message := range result.Messages {
				if message.Body == nil {
					log.Println("SQS Consumer: Nhận được message với body rỗng. Đang xóa...")
					c.deleteMessage(ctx, message.ReceiptHandle)
					continue
				}

				if c.processCommand(ctx, *message.Body) {
					c.deleteMessage(ctx, message.ReceiptHandle)
				} else {
					log.Printf("SQS Consumer: Lỗi transient khi xử lý message ID %s. Message sẽ được xử lý lại sau visibility timeout.", *message.MessageId)
				}
			}
		}
	}
}

// processCommand trả về true nếu message nên bị xóa khỏi queue (đã xử lý xong
// hoặc bị từ chối vĩnh viễn), false nếu nên giữ lại cho redelivery.
func (c *SQSCommandConsumer) processCommand(ctx context.Context, body string) bool {
	var envelope domain.CommandEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		log.Printf("SQS Consumer: Lỗi unmarshal command envelope: %v. Body: %s", err, body)
		return true // message hỏng, retry vô nghĩa
	}

	cmd := domain.CommandDTO{
		Op:           envelope.Op,
		ResourceID:   envelope.ResourceID,
		DesiredState: envelope.DesiredState,
	}

	result, err := c.syncService.SubmitCommand(ctx, envelope.User(), cmd)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrContention),
			errors.Is(err, store.ErrStoreUnavailable),
			errors.Is(err, context.DeadlineExceeded):
			return false
		case errors.Is(err, repository.ErrNotFound),
			errors.Is(err, service.ErrAlreadyOccupied),
			errors.Is(err, service.ErrUserAlreadyParked),
			errors.Is(err, service.ErrIneligibleSpotType),
			errors.Is(err, service.ErrNotOccupant),
			errors.Is(err, service.ErrInvalidCommand):
			log.Printf("SQS Consumer: Lệnh %s từ '%s' bị từ chối: %v", envelope.Op, envelope.Source, err)
			return true
		default:
			log.Printf("SQS Consumer: Lỗi không xác định khi xử lý lệnh %s: %v", envelope.Op, err)
			return false
		}
	}

	log.Printf("SQS Consumer: Đã xử lý lệnh %s cho resource %d (changed=%t, nguồn: %s)",
		envelope.Op, envelope.ResourceID, result.Changed, envelope.Source)
	return true
}

func (c *SQSCommandConsumer) deleteMessage(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		log.Println("SQS Consumer: Receipt handle rỗng, không thể xóa message.")
		return
	}
	_, delErr := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: receiptHandle,
	})
	if delErr != nil {
		log.Printf("SQS Consumer: Lỗi khi xóa message: %v", delErr)
	}
}
