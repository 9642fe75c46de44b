package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"facility_sync/internal/api"
	"facility_sync/internal/api/middleware"
	"facility_sync/internal/bus"
	"facility_sync/internal/config"
	"facility_sync/internal/iot"
	"facility_sync/internal/registry"
	"facility_sync/internal/repository/postgresql"
	"facility_sync/internal/service"
	"facility_sync/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsgo_config "github.com/aws/aws-sdk-go-v2/config" // Alias để tránh trùng tên
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	log.Println("Cấu hình đã được tải.")

	// 2. Setup Database Connection
	db, err := postgresql.NewDB(cfg)
	if err != nil {
		log.Fatalf("Không thể kết nối database: %v", err)
	}
	defer db.Close()
	log.Println("Đã kết nối database thành công!")

	// 3. Khởi tạo AWS SDK Config
	awsSDKCfg, err := awsgo_config.LoadDefaultConfig(context.TODO(), awsgo_config.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("Không thể tải AWS SDK config: %v", err)
	}
	log.Println("Đã tải AWS SDK config thành công cho region:", cfg.AWSRegion)

	// 4. Khởi tạo AWS Clients
	sqsClient := sqs.NewFromConfig(awsSDKCfg)
	iotDataPlaneClient := iotdataplane.NewFromConfig(awsSDKCfg, func(o *iotdataplane.Options) {
		if cfg.IoTMQTTEndpoint != "" {
			endpointWithSchema := cfg.IoTMQTTEndpoint
			if !strings.HasPrefix(endpointWithSchema, "https://") && !strings.HasPrefix(endpointWithSchema, "http://") {
				endpointWithSchema = "https://" + endpointWithSchema
			}
			o.BaseEndpoint = aws.String(endpointWithSchema)
		}
	})
	log.Println("Đã khởi tạo SQS client và IoT Data Plane client.")

	// 5. Khởi tạo Repository và nạp Resource Store
	resourceRepo := postgresql.NewPgResourceRepository(db)
	resourceStore := store.NewResourceStore(resourceRepo, cfg.RepoSaveTimeout)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := resourceStore.Load(loadCtx); err != nil {
		cancelLoad()
		log.Fatalf("Không thể nạp resource từ database: %v", err)
	}
	cancelLoad()

	// 6. Khởi tạo Change Bus và Connection Registry
	changeBus := bus.NewChangeBus(cfg.BusQueueCapacity)
	connRegistry := registry.NewConnectionRegistry(changeBus, cfg.HeartbeatTimeout)

	// 7. Khởi tạo Services
	gateCommander := service.NewIoTGateCommander(iotDataPlaneClient, cfg.IoTTopicPrefix)
	occupancyService := service.NewOccupancyService(resourceStore, changeBus, gateCommander, cfg.CommitRetries)
	syncService := service.NewSyncService(resourceStore, occupancyService, changeBus, connRegistry)

	// 8. Khởi tạo Auth Middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)

	// 9. Khởi tạo và Chạy SQS Command Consumer
	var wg sync.WaitGroup
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())

	if cfg.SQSCommandQueueURL == "" {
		log.Println("CẢNH BÁO: SQS_COMMAND_QUEUE_URL chưa được cấu hình. SQS Consumer sẽ không chạy.")
	} else {
		sqsConsumer := iot.NewSQSCommandConsumer(sqsClient, cfg, syncService)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sqsConsumer.Start(consumerCtx)
			log.Println("SQS Consumer đã dừng.")
		}()
	}

	// Background job quét các connection không heartbeat
	go startConnectionSweeper(consumerCtx, connRegistry, cfg.SweepInterval)

	// 10. Setup HTTP Router và Start Server
	router := api.SetupRouter(syncService, authMiddleware)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("Server đang chạy trên port %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Lỗi ListenAndServe(): %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Đang tắt server...")

	cancelConsumer()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server buộc phải tắt: %v", err)
	}

	if cfg.SQSCommandQueueURL != "" {
		log.Println("Đang chờ SQS consumer dừng (tối đa 5 giây)...")
		c := make(chan struct{})
		go func() {
			defer close(c)
			wg.Wait()
		}()
		select {
		case <-c:
			log.Println("SQS consumer đã dừng hoàn toàn.")
		case <-time.After(5 * time.Second):
			log.Println("SQS consumer không dừng trong thời gian chờ.")
		}
	}

	log.Println("Server đã tắt.")
}

func startConnectionSweeper(ctx context.Context, connRegistry *registry.ConnectionRegistry, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			connRegistry.ExpireStale(now.UTC())
		}
	}
}
