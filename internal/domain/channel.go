package domain

// ChannelConfiguration identifies one enterprise customer's instance of one
// channel type. Operators edit these (via the config file); the pipeline only
// reads them.
type ChannelConfiguration struct {
	ID          string   `koanf:"id"`
	Customer    string   `koanf:"customer"`
	ChannelType string   `koanf:"channel_type"` // "successfactors", "degreed", "cornerstone"
	Active      bool     `koanf:"active"`
	Catalogs    []string `koanf:"catalogs"` // empty means all catalogs for the customer

	// FullResync forces retransmission of the entire desired set on every run,
	// bypassing the unchanged-fingerprint skip. Some channels infer deletions
	// from a complete-state feed and require this.
	FullResync bool `koanf:"full_resync"`

	// PageLimit overrides the channel client's default chunk size when > 0.
	PageLimit int `koanf:"page_limit"`

	Credentials Credentials `koanf:"credentials"`
}

// Credentials holds whatever the channel type needs; unused fields stay empty.
type Credentials struct {
	BaseURL      string `koanf:"base_url"`
	Username     string `koanf:"username"`
	Password     string `koanf:"password"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	Token        string `koanf:"token"`

	SFTPHost      string `koanf:"sftp_host"`
	SFTPPort      int    `koanf:"sftp_port"`
	SFTPUser      string `koanf:"sftp_user"`
	SFTPPass      string `koanf:"sftp_pass"`
	SFTPRemoteDir string `koanf:"sftp_remote_dir"`
}
