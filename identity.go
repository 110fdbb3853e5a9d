package appsign

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// reviewerPrefix namespaces reviewer identities so a reviewer install never
// collides with the public app or with other versions of the same app.
const reviewerPrefix = "reviewer-"

// Identity is the package identity embedded in the signed archive.
type Identity struct {
	// ID is the app GUID, or a namespaced id for reviewer builds.
	ID string

	// Version identifies the build. Integer versions serialize as JSON numbers.
	Version string
}

// PublicIdentity returns the identity of a production-signed build.
func PublicIdentity(guid, version string) Identity {
	return Identity{ID: guid, Version: version}
}

// ReviewerIdentity returns the identity of a reviewer-signed build.
func ReviewerIdentity(guid, version string) Identity {
	return Identity{ID: fmt.Sprintf("%s%s-%s", reviewerPrefix, guid, version), Version: version}
}

type identityJSON struct {
	ID      string `json:"id"`
	Version any    `json:"version"`
}

// MarshalJSON encodes the identity as {"id": ..., "version": ...}.
func (i Identity) MarshalJSON() ([]byte, error) {
	out := identityJSON{ID: i.ID, Version: i.Version}
	if n, err := strconv.ParseInt(i.Version, 10, 64); err == nil {
		out.Version = n
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both numeric and string versions.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var in struct {
		ID      string          `json:"id"`
		Version json.RawMessage `json:"version"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	i.ID = in.ID
	i.Version = ""
	if len(in.Version) == 0 || string(in.Version) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(in.Version, &s); err == nil {
		i.Version = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(in.Version, &n); err != nil {
		return fmt.Errorf("identity version: %w", err)
	}
	i.Version = n.String()
	return nil
}
