package config

import (
	"os"
	"strconv"
	"strings"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（push 渠道）
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	TopicPrefix string // 推送主题前缀，如 "wisefido/push/"
}

// Config 通知服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 报警信号消费配置
	Intake struct {
		// Redis Streams（平台内部报警总线）
		Stream struct {
			Enabled  bool
			Stream   string // 如 "wisefido:alerts:signals"
			Group    string
			Consumer string
		}
		// Kafka（云端报警信号主题）
		Kafka struct {
			Enabled bool
			Brokers []string
			Topic   string
			GroupID string
		}
	}

	// 报警分析配置
	Analyzer struct {
		// 设备健康异常：健康分低于阈值时的级别划分
		DeviceHealth struct {
			MediumScore   float64 // 低于该分 → MEDIUM
			HighScore     float64 // 低于该分 → HIGH
			CriticalScore float64 // 低于该分 → CRITICAL
		}
		// 围栏越界：越界距离（米）的级别划分
		Geofence struct {
			HighDistance     float64 // 超过该距离 → HIGH
			CriticalDistance float64 // 超过该距离 → CRITICAL
		}
	}

	// 优先级与升级链配置
	Priority struct {
		BaseDelayMinutes int     // 第一级之后的基础升级延迟
		DelayGrowth      float64 // 延迟增长因子（指数退避）
		FallbackOrgName  string  // 孤儿组织的兜底步骤名称
		FallbackUserID   string  // 兜底接收人（系统管理员）
	}

	// 分发配置
	Distribution struct {
		Workers           int    // 渠道分发 worker 数
		QueueSize         int    // 任务队列长度
		DedupeRecipients  bool   // 同一接收人出现在多个升级层级时是否去重
		TrackingURLBase   string // 跟踪链接前缀
		SuppressWindowSec int    // 同设备同类型报警的抑制窗口（秒），0 表示关闭
	}

	// 渠道配置
	Channels struct {
		SMSURLTemplate   string // shoutrrr URL 模板，{phone} 占位
		EmailURLTemplate string // shoutrrr URL 模板，{email} 占位
		SlackToken       string
	}

	// 层级缓存配置
	Cache struct {
		HierarchyKeyPrefix string
		HierarchyTTL       int // 秒
		TrackKeyPrefix     string
		SuppressKeyPrefix  string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-notify")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "wisefido/push/")

	// 信号消费
	cfg.Intake.Stream.Enabled = getEnvBool("INTAKE_STREAM_ENABLED", true)
	cfg.Intake.Stream.Stream = getEnv("INTAKE_STREAM_NAME", "wisefido:alerts:signals")
	cfg.Intake.Stream.Group = getEnv("INTAKE_STREAM_GROUP", "wisefido-notify")
	cfg.Intake.Stream.Consumer = getEnv("INTAKE_STREAM_CONSUMER", "notify-1")
	cfg.Intake.Kafka.Enabled = getEnvBool("INTAKE_KAFKA_ENABLED", false)
	cfg.Intake.Kafka.Brokers = strings.Split(getEnv("INTAKE_KAFKA_BROKERS", "localhost:9092"), ",")
	cfg.Intake.Kafka.Topic = getEnv("INTAKE_KAFKA_TOPIC", "alert-signals")
	cfg.Intake.Kafka.GroupID = getEnv("INTAKE_KAFKA_GROUP", "wisefido-notify")

	// 分析阈值
	cfg.Analyzer.DeviceHealth.MediumScore = getEnvFloat("HEALTH_MEDIUM_SCORE", 70)
	cfg.Analyzer.DeviceHealth.HighScore = getEnvFloat("HEALTH_HIGH_SCORE", 50)
	cfg.Analyzer.DeviceHealth.CriticalScore = getEnvFloat("HEALTH_CRITICAL_SCORE", 30)
	cfg.Analyzer.Geofence.HighDistance = getEnvFloat("GEOFENCE_HIGH_DISTANCE_M", 100)
	cfg.Analyzer.Geofence.CriticalDistance = getEnvFloat("GEOFENCE_CRITICAL_DISTANCE_M", 500)

	// 优先级与升级链
	cfg.Priority.BaseDelayMinutes = getEnvInt("PRIORITY_BASE_DELAY_MIN", 5)
	cfg.Priority.DelayGrowth = getEnvFloat("PRIORITY_DELAY_GROWTH", 2.0)
	cfg.Priority.FallbackOrgName = getEnv("FALLBACK_ORG_NAME", "System Default")
	cfg.Priority.FallbackUserID = getEnv("FALLBACK_USER_ID", "system-admin")

	// 分发
	cfg.Distribution.Workers = getEnvInt("DISPATCH_WORKERS", 8)
	cfg.Distribution.QueueSize = getEnvInt("DISPATCH_QUEUE_SIZE", 64)
	cfg.Distribution.DedupeRecipients = getEnvBool("DISPATCH_DEDUPE_RECIPIENTS", true)
	cfg.Distribution.TrackingURLBase = getEnv("TRACKING_URL_BASE", "https://app.wisefido.com/track/")
	cfg.Distribution.SuppressWindowSec = getEnvInt("ALERT_SUPPRESS_WINDOW_SEC", 300)

	// 渠道
	cfg.Channels.SMSURLTemplate = getEnv("CHANNEL_SMS_URL", "")
	cfg.Channels.EmailURLTemplate = getEnv("CHANNEL_EMAIL_URL", "")
	cfg.Channels.SlackToken = getEnv("CHANNEL_SLACK_TOKEN", "")

	// 缓存键
	cfg.Cache.HierarchyKeyPrefix = getEnv("CACHE_HIERARCHY_PREFIX", "notify:hierarchy:")
	cfg.Cache.HierarchyTTL = getEnvInt("CACHE_HIERARCHY_TTL", 300)
	cfg.Cache.TrackKeyPrefix = getEnv("CACHE_TRACK_PREFIX", "notify:track:")
	cfg.Cache.SuppressKeyPrefix = getEnv("CACHE_SUPPRESS_PREFIX", "notify:suppress:")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}
