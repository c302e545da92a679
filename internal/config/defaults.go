package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kotae/data/db/documents.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/kotae/data/indices/vectors.kvec"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/kotae/data/indices/bleve"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Completion.BaseURL == "" {
		cfg.Completion.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Completion.APIKeyEnv == "" {
		cfg.Completion.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = "gpt-4o-mini"
	}
	if cfg.Completion.MaxTokens == 0 {
		cfg.Completion.MaxTokens = 512
	}
	if cfg.Completion.MaxRetries == 0 {
		cfg.Completion.MaxRetries = 3
	}
	if cfg.Completion.TimeoutSeconds == 0 {
		cfg.Completion.TimeoutSeconds = 60
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Retrieval.DefaultLimit == 0 {
		cfg.Retrieval.DefaultLimit = 5
	}
	if cfg.Retrieval.MaxLimit == 0 {
		cfg.Retrieval.MaxLimit = 50
	}
	if cfg.Retrieval.Threshold == 0 {
		cfg.Retrieval.Threshold = 0.3
	}
	if cfg.Retrieval.RerankFactor == 0 {
		cfg.Retrieval.RerankFactor = 4
	}
	if cfg.Retrieval.Concurrency == 0 {
		cfg.Retrieval.Concurrency = 4
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md"}
	}
}
