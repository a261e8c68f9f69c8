package population

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
)

// LoadFile reads a JSON configuration file and applies environment
// overrides to the base settings before resolution.
//
// File shape:
//
//	{
//	  "base": {"algorithm": "RS256", "access_token_ttl": 3600},
//	  "populations": {
//	    "customers": {
//	      "issuer": "customers-key",
//	      "audience": "https://api.example.com",
//	      "storage": "main",
//	      "allowed_grants": ["password", "refresh_token"]
//	    }
//	  }
//	}
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
	}
	// Environment wins over the file for base policy. Having no overrides
	// set is fine; a set-but-malformed override is not.
	if err := envdecode.Decode(&cfg.Base); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("%w: environment overrides: %v", ErrConfiguration, err)
	}
	return Resolve(cfg)
}
