package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/indexsupply/encdex/keys"
	"github.com/indexsupply/encdex/schema"
	"github.com/indexsupply/encdex/wos"

	"github.com/goccy/go-json"
)

type Root struct {
	Host        string
	Workspace   string
	AccessKey   string
	PGURL       string
	Timeout     time.Duration
	Workers     int
	Keys        Keys
	Collections []schema.Collection
}

// The root key is either given directly or
// wrapped by a KMS key.
type Keys struct {
	Root      string
	Wrapped   []byte
	KMSKeyID  string
	AWSRegion string
	// age identity used to seal record payloads
	Identity   string
	Recipients []string
}

func (conf *Root) UnmarshalJSON(d []byte) error {
	x := struct {
		Host        wos.EnvString       `json:"host"`
		Workspace   wos.EnvString       `json:"workspace"`
		AccessKey   wos.EnvString       `json:"access_key"`
		PGURL       wos.EnvString       `json:"pg_url"`
		Timeout     wos.EnvString       `json:"timeout"`
		Workers     wos.EnvInt          `json:"workers"`
		Collections []schema.Collection `json:"collections"`
		Keys        struct {
			Root       wos.EnvString   `json:"root_key"`
			Wrapped    wos.EnvString   `json:"wrapped_root_key"`
			KMSKeyID   wos.EnvString   `json:"kms_key_id"`
			AWSRegion  wos.EnvString   `json:"aws_region"`
			Identity   wos.EnvString   `json:"identity"`
			Recipients []wos.EnvString `json:"recipients"`
		} `json:"keys"`
	}{}
	if err := json.Unmarshal(d, &x); err != nil {
		return err
	}
	conf.Host = string(x.Host)
	conf.Workspace = string(x.Workspace)
	conf.AccessKey = string(x.AccessKey)
	conf.PGURL = string(x.PGURL)
	conf.Workers = int(x.Workers)
	conf.Collections = x.Collections
	conf.Keys.Root = string(x.Keys.Root)
	conf.Keys.KMSKeyID = string(x.Keys.KMSKeyID)
	conf.Keys.AWSRegion = string(x.Keys.AWSRegion)
	conf.Keys.Identity = string(x.Keys.Identity)
	for _, r := range x.Keys.Recipients {
		conf.Keys.Recipients = append(conf.Keys.Recipients, string(r))
	}
	if len(x.Keys.Wrapped) > 0 {
		var err error
		conf.Keys.Wrapped, err = base64.StdEncoding.DecodeString(string(x.Keys.Wrapped))
		if err != nil {
			return fmt.Errorf("unable to decode wrapped_root_key: %w", err)
		}
	}
	if len(x.Timeout) > 0 {
		var err error
		conf.Timeout, err = time.ParseDuration(string(x.Timeout))
		if err != nil {
			const tag = "unable to parse timeout value: %s"
			return fmt.Errorf(tag, string(x.Timeout))
		}
	}
	return nil
}

func Load(path string) (Root, error) {
	var conf Root
	f, err := os.Open(path)
	if err != nil {
		return conf, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&conf); err != nil {
		return conf, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if err := ValidateFix(&conf); err != nil {
		return conf, fmt.Errorf("validating config %s: %w", path, err)
	}
	return conf, nil
}

func ValidateFix(conf *Root) error {
	if conf.Timeout == 0 {
		conf.Timeout = 10 * time.Second
	}
	if conf.Workers == 0 {
		conf.Workers = 4
	}
	if conf.Workers < 0 {
		return fmt.Errorf("workers must be positive. got: %d", conf.Workers)
	}
	if conf.Host == "" && conf.PGURL == "" {
		return fmt.Errorf("one of host or pg_url is required")
	}
	switch {
	case conf.Keys.Root != "" && len(conf.Keys.Wrapped) > 0:
		return fmt.Errorf("root_key and wrapped_root_key are mutually exclusive")
	case conf.Keys.Root == "" && len(conf.Keys.Wrapped) == 0:
		return fmt.Errorf("one of root_key or wrapped_root_key is required")
	case len(conf.Keys.Wrapped) > 0 && conf.Keys.AWSRegion == "":
		return fmt.Errorf("aws_region is required with wrapped_root_key")
	}
	seen := map[string]struct{}{}
	for _, c := range conf.Collections {
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("duplicate collection: %s", c.Name)
		}
		seen[c.Name] = struct{}{}
		if err := schema.Validate(c); err != nil {
			return err
		}
	}
	return nil
}

func (conf Root) Collection(name string) (schema.Collection, error) {
	for _, c := range conf.Collections {
		if c.Name == name {
			return c, nil
		}
	}
	return schema.Collection{}, fmt.Errorf("missing collection config for: %s", name)
}

// Returns the root key, unwrapping it with KMS when needed.
func (conf Root) RootKey(ctx context.Context) (keys.Root, error) {
	if conf.Keys.Root != "" {
		return keys.ParseRoot(conf.Keys.Root)
	}
	api, err := keys.NewKMS(conf.Keys.AWSRegion)
	if err != nil {
		return nil, err
	}
	return keys.Unwrap(ctx, api, conf.Keys.KMSKeyID, conf.Keys.Wrapped)
}
