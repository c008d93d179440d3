package config

import "time"

type Config struct {
	Service     *ServiceConfig
	Gateway     *GatewayConfig
	Redis       *RedisConfig
	RateLimit   *RateLimitConfig
	Tracer      *TracerConfig
	Logger      *LoggerConfig
	SecretToken string
}

type ServiceConfig struct {
	Name string
	Env  string
	Addr string
}

// DevMode reports whether the service runs permissive: guest identities
// allowed, any origin accepted.
func (s *ServiceConfig) DevMode() bool {
	return s.Env == "development"
}

type GatewayConfig struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	PollWait       time.Duration
}

type RedisConfig struct {
	Enabled      bool
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type RateLimitConfig struct {
	Budget int
	Window time.Duration
}

type TracerConfig struct {
	Address string
}

type LoggerConfig struct {
	Level  string
	Format string
}
