package config

import (
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Server   Server   `yaml:"server"`
	Model    Model    `yaml:"model"`
	Postgres Postgres `yaml:"postgres"`
	Minio    Minio    `yaml:"minio"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	Email    Email    `yaml:"email"`
}

type Server struct {
	Port string `yaml:"port"`
}

type Model struct {
	Dir   string `yaml:"dir"`
	GPUID *int   `yaml:"gpu_id"`
}

type Postgres struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	AutoCreate bool   `yaml:"autocreate"`
}

type Minio struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
}

type RabbitMQ struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Queue    string `yaml:"queue"`
}

type Email struct {
	APIKey string `yaml:"api_key"`
	From   string `yaml:"from"`
}

func InitConfig(filename string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filename)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, err
	}
	return cfg, nil
}
