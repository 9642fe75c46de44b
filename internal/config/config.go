package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string

	AWSRegion          string
	SQSCommandQueueURL string
	IoTMQTTEndpoint    string
	IoTTopicPrefix     string

	JWTSecret string // Secret key cho JWT

	HeartbeatTimeout time.Duration // Connection không heartbeat quá lâu sẽ bị expire
	SweepInterval    time.Duration // Chu kỳ quét connection hết hạn
	BusQueueCapacity int           // Kích thước queue delta cho mỗi subscriber
	CommitRetries    int           // Số lần retry khi VersionConflict
	RepoSaveTimeout  time.Duration // Timeout ghi repository trong một commit
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("Cảnh báo: Không thể tải file .env: %v", err)
	}

	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	heartbeatSecs, _ := strconv.Atoi(getEnv("HEARTBEAT_TIMEOUT_SECONDS", "30"))
	sweepSecs, _ := strconv.Atoi(getEnv("SWEEP_INTERVAL_SECONDS", "10"))
	busCapacity, _ := strconv.Atoi(getEnv("BUS_QUEUE_CAPACITY", "256"))
	commitRetries, _ := strconv.Atoi(getEnv("COMMIT_RETRIES", "3"))
	saveTimeoutSecs, _ := strconv.Atoi(getEnv("REPO_SAVE_TIMEOUT_SECONDS", "5"))

	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "youruser"),
		DBPassword: getEnv("DB_PASSWORD", "yourpassword"),
		DBName:     getEnv("DB_NAME", "facility_db"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),

		AWSRegion:          getEnv("AWS_REGION", "ap-southeast-1"),
		SQSCommandQueueURL: getEnv("SQS_COMMAND_QUEUE_URL", ""),
		IoTMQTTEndpoint:    getEnv("IOT_MQTT_ENDPOINT", ""),
		IoTTopicPrefix:     getEnv("IOT_TOPIC_PREFIX", "facility_sync"),

		JWTSecret: getEnv("JWT_SECRET", "your-very-secret-key-for-jwt-!@#$"),

		HeartbeatTimeout: time.Duration(heartbeatSecs) * time.Second,
		SweepInterval:    time.Duration(sweepSecs) * time.Second,
		BusQueueCapacity: busCapacity,
		CommitRetries:    commitRetries,
		RepoSaveTimeout:  time.Duration(saveTimeoutSecs) * time.Second,
	}
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Biến môi trường '%s' không được đặt, sử dụng giá trị mặc định: '%s'", key, fallback)
	return fallback
}
