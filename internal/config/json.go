package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StructuredJSONConfig mirrors the subset of [StructuredConfig] that may be
// provided via a JSON file. Durations are decoded through the [Duration]
// wrapper so operators can write "24h" instead of nanosecond integers.
type StructuredJSONConfig struct {
	App struct {
		Environment  string `json:"environment"`
		TokenSignKey string `json:"token_sign_key"`
	} `json:"app,omitempty"`

	Storage struct {
		DB struct {
			Type       string `json:"type"`
			DSN        string `json:"dsn"`
			SQLitePath string `json:"sqlite_path"`
		} `json:"db,omitempty"`
	} `json:"storage,omitempty"`

	Backup struct {
		Dir             string   `json:"dir"`
		DailyInterval   Duration `json:"daily_interval"`
		WeeklyInterval  Duration `json:"weekly_interval"`
		MonthlyInterval Duration `json:"monthly_interval"`
		MaxAge          Duration `json:"max_age"`
		S3Bucket        string   `json:"s3_bucket"`
		S3Region        string   `json:"s3_region"`
		S3Endpoint      string   `json:"s3_endpoint"`
		AlertWebhookURL string   `json:"alert_webhook_url"`
	} `json:"backup,omitempty"`

	Ops struct {
		Address        string   `json:"address"`
		RequestTimeout Duration `json:"request_timeout"`
	} `json:"ops,omitempty"`
}

func parseJSON(jsonFilePath string) (*StructuredConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading a json file: %w", err)
	}
	defer jsonFile.Close()

	var jsonCfg StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&jsonCfg); err != nil {
		return nil, fmt.Errorf("error decoding json configs: %w", err)
	}

	cfg := &StructuredConfig{
		App: App{
			Environment:  jsonCfg.App.Environment,
			TokenSignKey: jsonCfg.App.TokenSignKey,
		},
		Storage: Storage{
			DB: DB{
				Type:       jsonCfg.Storage.DB.Type,
				DSN:        jsonCfg.Storage.DB.DSN,
				SQLitePath: jsonCfg.Storage.DB.SQLitePath,
			},
		},
		Backup: Backup{
			Dir:             jsonCfg.Backup.Dir,
			DailyInterval:   time.Duration(jsonCfg.Backup.DailyInterval),
			WeeklyInterval:  time.Duration(jsonCfg.Backup.WeeklyInterval),
			MonthlyInterval: time.Duration(jsonCfg.Backup.MonthlyInterval),
			MaxAge:          time.Duration(jsonCfg.Backup.MaxAge),
			S3Bucket:        jsonCfg.Backup.S3Bucket,
			S3Region:        jsonCfg.Backup.S3Region,
			S3Endpoint:      jsonCfg.Backup.S3Endpoint,
			AlertWebhookURL: jsonCfg.Backup.AlertWebhookURL,
		},
		Ops: Ops{
			Address:        jsonCfg.Ops.Address,
			RequestTimeout: time.Duration(jsonCfg.Ops.RequestTimeout),
		},
		JSONFilePath: "",
	}

	return cfg, nil
}

// Duration is a wrapper around time.Duration that supports JSON unmarshaling from strings like "1h", "30s"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return json.Unmarshal(b, (*time.Duration)(d))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
