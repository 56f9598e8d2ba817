package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "FXBOT"

// Settings holds all configuration for the bot
type Settings struct {
	Account      AccountConfig      `mapstructure:"account"`
	Data         DataConfig         `mapstructure:"data"`
	Trading      TradingConfig      `mapstructure:"trading"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Model        ModelConfig        `mapstructure:"model"`
	Backtest     BacktestConfig     `mapstructure:"backtest"`
	Retraining   RetrainingConfig   `mapstructure:"retraining"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	TradeLogging TradeLoggingConfig `mapstructure:"trade_logging"`
	MarketFilter MarketFilterConfig `mapstructure:"market_filter"`
	Server       ServerConfig       `mapstructure:"server"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Storage      StorageConfig      `mapstructure:"storage"`
}

// AccountConfig holds the OANDA credentials used for candle data
type AccountConfig struct {
	ID     string `mapstructure:"id"`
	APIKey string `mapstructure:"api_key"`
	APIURL string `mapstructure:"api_url"`
}

type DataConfig struct {
	Symbols          []string `mapstructure:"symbols" validate:"min=1"`
	BaseTimeframe    string   `mapstructure:"base_timeframe" validate:"required"`
	HigherTimeframes []string `mapstructure:"higher_timeframes"`
	BarsCount        int      `mapstructure:"bars_count" validate:"gt=0"`
	CacheDir         string   `mapstructure:"cache_dir"`
	// Point is the broker price increment, spread pips convert to price as pips*point*10.
	Point float64 `mapstructure:"point" validate:"gt=0"`
}

type TradingConfig struct {
	MaxPositions           int     `mapstructure:"max_positions" validate:"gt=0"`
	PredictionHorizon      int     `mapstructure:"prediction_horizon" validate:"gt=0"`
	MinPredictionThreshold float64 `mapstructure:"min_prediction_threshold" validate:"gt=0"`
	MaxLot                 float64 `mapstructure:"max_lot" validate:"gt=0"`
	MinLot                 float64 `mapstructure:"min_lot" validate:"gt=0,ltefield=MaxLot"`
	MinConfidence          float64 `mapstructure:"min_confidence" validate:"gte=0,lte=1"`
}

type RiskConfig struct {
	MaxRiskPerTrade       float64 `mapstructure:"max_risk_per_trade" validate:"gt=0,lt=1"`
	ATRSLMultiplier       float64 `mapstructure:"atr_sl_multiplier" validate:"gt=0"`
	ATRTPMultiplier       float64 `mapstructure:"atr_tp_multiplier" validate:"gt=0"`
	TrailingATRMultiplier float64 `mapstructure:"trailing_atr_multiplier" validate:"gt=0"`
	TrailingActivationATR float64 `mapstructure:"trailing_activation_atr" validate:"gte=0"`
}

type ModelConfig struct {
	Mode                string  `mapstructure:"mode" validate:"oneof=regression classification"`
	NumBoostRound       int     `mapstructure:"num_boost_round" validate:"gt=0"`
	EarlyStoppingRounds int     `mapstructure:"early_stopping_rounds" validate:"gte=0"`
	LearningRate        float64 `mapstructure:"learning_rate" validate:"gt=0,lte=1"`
	MaxDepth            int     `mapstructure:"max_depth" validate:"gt=0,lte=12"`
	MinDataInLeaf       int     `mapstructure:"min_data_in_leaf" validate:"gt=0"`
	FeatureFraction     float64 `mapstructure:"feature_fraction" validate:"gt=0,lte=1"`
	BaggingFraction     float64 `mapstructure:"bagging_fraction" validate:"gt=0,lte=1"`
	Lambda              float64 `mapstructure:"lambda" validate:"gte=0"`
	MaxBins             int     `mapstructure:"max_bins" validate:"gte=2,lte=255"`
	ValidationRatio     float64 `mapstructure:"validation_ratio" validate:"gt=0,lt=1"`
	Seed                int64   `mapstructure:"seed"`
	ShapTopPct          float64 `mapstructure:"shap_top_pct" validate:"gt=0,lte=1"`
	ShapMaxSamples      int     `mapstructure:"shap_max_samples" validate:"gt=0"`
	ModelDir            string  `mapstructure:"model_dir"`
}

type BacktestConfig struct {
	TrainWindowDays int     `mapstructure:"train_window_days" validate:"gt=0"`
	TestWindowDays  int     `mapstructure:"test_window_days" validate:"gt=0"`
	InitialBalance  float64 `mapstructure:"initial_balance" validate:"gt=0"`
	SpreadPips      float64 `mapstructure:"spread_pips" validate:"gte=0"`
	Workers         int     `mapstructure:"workers" validate:"gte=1"`
	PeriodsPerYear  float64 `mapstructure:"periods_per_year" validate:"gt=0"`
	ReportPath      string  `mapstructure:"report_path"`
}

type RetrainingConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	IntervalHours int     `mapstructure:"interval_hours" validate:"gt=0"`
	MonitorWindow int     `mapstructure:"monitor_window" validate:"gt=0"`
	MinWinRate    float64 `mapstructure:"min_win_rate" validate:"gte=0,lte=1"`
	MinSharpe     float64 `mapstructure:"min_sharpe"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	File   string `mapstructure:"file"`
	// Topics enables debug output for the named packages, "all" for every one.
	Topics []string `mapstructure:"topics"`
}

type TradeLoggingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver" validate:"oneof=memory postgres"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
}

type MarketFilterConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MinADX        float64 `mapstructure:"min_adx" validate:"gte=0"`
	MaxSpreadPips float64 `mapstructure:"max_spread_pips" validate:"gte=0"`
	SessionOnly   bool    `mapstructure:"session_only"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	ClientID    string   `mapstructure:"client_id"`
	SignalTopic string   `mapstructure:"signal_topic"`
	StopTopic   string   `mapstructure:"stop_topic"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type StorageConfig struct {
	Backend string   `mapstructure:"backend" validate:"oneof=local s3"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// PointFor returns the price increment for a symbol. JPY crosses quote with three decimals.
func (s *Settings) PointFor(symbol string) float64 {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return 0.001
	}
	return s.Data.Point
}

// SpreadPrice converts the configured spread in pips into price units.
func (s *Settings) SpreadPrice(point float64) float64 {
	return s.Backtest.SpreadPips * point * 10
}

// Load loads the configuration from an optional .env, file and environment variables.
// An empty path loads defaults plus environment overrides.
func Load(path string) (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in defaults without reading files or the environment.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config does not unmarshal: %v", err))
	}
	return &cfg
}

var validate = validator.New()

func Validate(cfg *Settings) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The OANDA variables predate the FXBOT_ prefix
	_ = v.BindEnv("account.id", EnvPrefix+"_ACCOUNT_ID", "OANDA_ACCOUNT_ID")
	_ = v.BindEnv("account.api_key", EnvPrefix+"_ACCOUNT_API_KEY", "OANDA_API_KEY")

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("account.id", "")
	v.SetDefault("account.api_key", "")
	v.SetDefault("account.api_url", "https://api-fxpractice.oanda.com")

	v.SetDefault("data.symbols", []string{"EUR_USD"})
	v.SetDefault("data.base_timeframe", "M5")
	v.SetDefault("data.higher_timeframes", []string{"M15", "H1", "H4", "D1"})
	v.SetDefault("data.bars_count", 10000)
	v.SetDefault("data.cache_dir", "data/ohlcv")
	v.SetDefault("data.point", 0.00001)

	v.SetDefault("trading.max_positions", 5)
	v.SetDefault("trading.prediction_horizon", 6)
	v.SetDefault("trading.min_prediction_threshold", 0.0005)
	v.SetDefault("trading.max_lot", 0.1)
	v.SetDefault("trading.min_lot", 0.01)
	v.SetDefault("trading.min_confidence", 0.0)

	v.SetDefault("risk.max_risk_per_trade", 0.02)
	v.SetDefault("risk.atr_sl_multiplier", 2.0)
	v.SetDefault("risk.atr_tp_multiplier", 3.0)
	v.SetDefault("risk.trailing_atr_multiplier", 1.5)
	v.SetDefault("risk.trailing_activation_atr", 1.0)

	v.SetDefault("model.mode", "regression")
	v.SetDefault("model.num_boost_round", 300)
	v.SetDefault("model.early_stopping_rounds", 30)
	v.SetDefault("model.learning_rate", 0.05)
	v.SetDefault("model.max_depth", 5)
	v.SetDefault("model.min_data_in_leaf", 20)
	v.SetDefault("model.feature_fraction", 0.8)
	v.SetDefault("model.bagging_fraction", 0.8)
	v.SetDefault("model.lambda", 1.0)
	v.SetDefault("model.max_bins", 32)
	v.SetDefault("model.validation_ratio", 0.2)
	v.SetDefault("model.seed", 42)
	v.SetDefault("model.shap_top_pct", 0.5)
	v.SetDefault("model.shap_max_samples", 5000)
	v.SetDefault("model.model_dir", "data/models")

	v.SetDefault("backtest.train_window_days", 180)
	v.SetDefault("backtest.test_window_days", 30)
	v.SetDefault("backtest.initial_balance", 1_000_000.0)
	v.SetDefault("backtest.spread_pips", 1.5)
	v.SetDefault("backtest.workers", 1)
	v.SetDefault("backtest.periods_per_year", 252.0*24*12)
	v.SetDefault("backtest.report_path", "")

	v.SetDefault("retraining.enabled", false)
	v.SetDefault("retraining.interval_hours", 168)
	v.SetDefault("retraining.monitor_window", 20)
	v.SetDefault("retraining.min_win_rate", 0.40)
	v.SetDefault("retraining.min_sharpe", 0.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.topics", []string{})

	v.SetDefault("trade_logging.enabled", false)
	v.SetDefault("trade_logging.driver", "memory")
	v.SetDefault("trade_logging.dsn", "")

	v.SetDefault("market_filter.enabled", false)
	v.SetDefault("market_filter.min_adx", 20.0)
	v.SetDefault("market_filter.max_spread_pips", 3.0)
	v.SetDefault("market_filter.session_only", false)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "fxbot")
	v.SetDefault("kafka.signal_topic", "fx-signals")
	v.SetDefault("kafka.stop_topic", "fx-stop-updates")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "30s")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "eu-west-2")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.prefix", "models")
}
