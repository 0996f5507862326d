package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	Password string

	CameraHost           string // base URL of the camera server, with trailing slash
	CameraLogin          string
	DefaultCamera        string // camera id watched after the listing arrives, empty = first usable
	ResolutionX          int
	ResolutionY          int
	FPS                  int
	ChunkSize            int           // bytes requested per read from the camera stream
	BufferCapacity       int           // working buffer size per session
	ConnectTimeout       time.Duration // bound on opening a stream or fetching the listing
	StopTimeout          time.Duration // how long a restart waits for the previous session
	ListingRetryInterval time.Duration

	ImageDirectory           string
	DatabasePath             string
	LogDirectory             string
	ImageBufferLimit         int
	ImageBufferFlushInterval int
	MotionThreshold          int
	ProcessingInterval       int // Co którą klatkę sprawdzać pod kątem ruchu (1=każdą)

	MQTTBroker   string // empty disables event publishing
	MQTTTopic    string
	MQTTClientID string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnvAsInt("PORT", 8080),
		Password: getEnv("PASSWORD", "sienkiewicza2"),

		CameraHost:           getEnv("CAMERA_HOST", "http://demo.macroscop.com:8080/"),
		CameraLogin:          getEnv("CAMERA_LOGIN", "root"),
		DefaultCamera:        getEnv("DEFAULT_CAMERA", ""),
		ResolutionX:          getEnvAsInt("RESOLUTION_X", 640),
		ResolutionY:          getEnvAsInt("RESOLUTION_Y", 480),
		FPS:                  getEnvAsInt("FPS", 25),
		ChunkSize:            getEnvAsInt("CHUNK_SIZE", 5000),
		BufferCapacity:       getEnvAsInt("BUFFER_CAPACITY", 1024*1024),
		ConnectTimeout:       getEnvAsDuration("CONNECT_TIMEOUT", 10*time.Second),
		StopTimeout:          getEnvAsDuration("STOP_TIMEOUT", 3*time.Second),
		ListingRetryInterval: getEnvAsDuration("LISTING_RETRY_INTERVAL", 5*time.Second),

		ImageDirectory:           getEnv("IMAGE_DIR", filepath.Join(".", "images")),
		DatabasePath:             getEnv("DB_PATH", filepath.Join(".", "data", "camviewer.db")),
		LogDirectory:             getEnv("LOG_DIR", filepath.Join(".", "logs")),
		ImageBufferLimit:         getEnvAsInt("BUFFER_LIMIT", 7),
		ImageBufferFlushInterval: getEnvAsInt("FLUSH_INTERVAL", 30),
		MotionThreshold:          getEnvAsInt("MOTION_THRESHOLD", 10000),
		ProcessingInterval:       getEnvAsInt("PROCESSING_INTERVAL", 5),

		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTTopic:    getEnv("MQTT_TOPIC", "camviewer/events"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "camviewer"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt accepts only positive integers; anything else falls back to the default.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("10s") or a plain number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
