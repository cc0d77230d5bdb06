package ollama

import (
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

type Config struct {
	Host    string `split_words:"true" default:"http://localhost:11434"`
	Timeout int    `split_words:"true" default:"60"`
}

func (c *Config) New() (*api.Client, error) {
	u, err := url.Parse(c.Host)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: time.Duration(c.Timeout) * time.Second}
	return api.NewClient(u, httpClient), nil
}
