package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	limiter "github.com/ulule/limiter/v3"
)

// Configuration stores server configuration parameters
type Configuration struct {
	// web server parts
	Base          string `json:"base"`            // base URL
	Port          int    `json:"port"`            // server port number
	Verbose       int    `json:"verbose"`         // verbose output
	LogFile       string `json:"log_file"`        // server log file
	LimiterPeriod string `json:"rate"`            // github.com/ulule/limiter rate value
	MaxUploadSize int64  `json:"max_upload_size"` // max size of uploaded image in bytes
	MaxPixels     int    `json:"max_pixels"`      // max width*height of uploaded image
	Timeout       string `json:"predict_timeout"` // decode+inference timeout, e.g. 30s

	// TLS parts
	ServerCrt   string   `json:"server_cert"`  // server certificate
	ServerKey   string   `json:"server_key"`   // server certificate key
	DomainNames []string `json:"domain_names"` // LetsEncrypt domain names

	// model parts
	ModelPath    string `json:"model_path"`    // ONNX model file
	MetadataPath string `json:"metadata_path"` // model metadata JSON file
	ONNXLibrary  string `json:"onnx_library"`  // onnxruntime shared library path

	// database parts
	DBURI  string `json:"db_uri"`  // database URI, mongodb://, postgres:// or memory://
	DBName string `json:"db_name"` // database name (MongoDB)
	DBColl string `json:"db_coll"` // collection or table name
}

// Default returns configuration with default values
func Default() *Configuration {
	c := &Configuration{}
	c.setDefaults()
	return c
}

// Load reads configuration file (if any), applies environment overrides
// and default values
func Load(fname string) (*Configuration, error) {
	c := &Configuration{}
	if fname != "" {
		data, err := os.ReadFile(filepath.Clean(fname))
		if err != nil {
			return nil, fmt.Errorf("unable to read %s: %w", fname, err)
		}
		if err := json.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("unable to parse %s: %w", fname, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		c.ModelPath = v
	}
	if v := os.Getenv("METADATA_PATH"); v != "" {
		c.MetadataPath = v
	}
	if v := os.Getenv("ONNX_LIBRARY"); v != "" {
		c.ONNXLibrary = v
	}
	if v := os.Getenv("DB_URI"); v != "" {
		c.DBURI = v
	}
	return nil
}

func (c *Configuration) setDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LimiterPeriod == "" {
		c.LimiterPeriod = "100-S"
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = 10 << 20
	}
	if c.MaxPixels == 0 {
		c.MaxPixels = 4096 * 4096
	}
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
	if c.ModelPath == "" {
		c.ModelPath = filepath.Join("models", "model_embedded.onnx")
	}
	if c.MetadataPath == "" {
		c.MetadataPath = filepath.Join("models", "model_metadata.json")
	}
	if c.DBURI == "" {
		c.DBURI = "mongodb://localhost:27017/"
	}
	if c.DBName == "" {
		c.DBName = "facial_expression_classification"
	}
	if c.DBColl == "" {
		c.DBColl = "predictions"
	}
	c.Base = strings.TrimSuffix(c.Base, "/")
	if c.Base != "" && !strings.HasPrefix(c.Base, "/") {
		c.Base = "/" + c.Base
	}
}

// Validate checks configuration values which can not be defaulted
func (c *Configuration) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxUploadSize < 0 {
		return fmt.Errorf("invalid max_upload_size %d", c.MaxUploadSize)
	}
	if c.MaxPixels < 0 {
		return fmt.Errorf("invalid max_pixels %d", c.MaxPixels)
	}
	if _, err := c.PredictTimeout(); err != nil {
		return err
	}
	if _, err := limiter.NewRateFromFormatted(c.LimiterPeriod); err != nil {
		return fmt.Errorf("invalid rate %q: %w", c.LimiterPeriod, err)
	}
	if _, err := c.DBScheme(); err != nil {
		return err
	}
	if (c.ServerCrt == "") != (c.ServerKey == "") {
		return errors.New("server_cert and server_key must be provided together")
	}
	return nil
}

// PredictTimeout returns parsed predict timeout, zero means no timeout
func (c *Configuration) PredictTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid predict_timeout %q: %w", c.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid predict_timeout %q", c.Timeout)
	}
	return d, nil
}

// DBScheme returns normalized database scheme of DBURI
func (c *Configuration) DBScheme() (string, error) {
	scheme, _, ok := strings.Cut(c.DBURI, "://")
	if !ok {
		return "", fmt.Errorf("invalid db_uri %q", c.DBURI)
	}
	switch strings.ToLower(scheme) {
	case "mongodb":
		return "mongodb", nil
	case "postgres", "postgresql":
		return "postgres", nil
	case "memory":
		return "memory", nil
	}
	return "", fmt.Errorf("unsupported db_uri scheme %q", scheme)
}

// Address returns server listen address
func (c *Configuration) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// String provides JSON representation of configuration without secrets
func (c *Configuration) String() string {
	cc := *c
	if i := strings.Index(cc.DBURI, "@"); i > 0 {
		scheme, _, _ := strings.Cut(cc.DBURI, "://")
		cc.DBURI = scheme + "://***" + cc.DBURI[i:]
	}
	data, err := json.Marshal(cc)
	if err != nil {
		return err.Error()
	}
	return string(data)
}
