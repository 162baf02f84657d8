package domain

import "fmt"

// BuildIdentity names a single pipeline run. Every docker resource the run
// creates (network, container) derives its name from the identity, so two
// concurrent runs on the same host must carry distinct identities.
type BuildIdentity struct {
	BuildID    string `json:"build_id"`
	NodeCookie string `json:"node_cookie"`
}

// NetworkName returns the docker network name for this run.
func (id BuildIdentity) NetworkName() string {
	return fmt.Sprintf("n_%s_%s", id.BuildID, id.NodeCookie)
}

// ContainerName returns the docker container name for this run.
func (id BuildIdentity) ContainerName() string {
	return fmt.Sprintf("c_%s_%s", id.BuildID, id.NodeCookie)
}

// Validate checks that both identity components are present.
func (id BuildIdentity) Validate() error {
	if id.BuildID == "" {
		return fmt.Errorf("build identity: build id is required")
	}
	if id.NodeCookie == "" {
		return fmt.Errorf("build identity: node cookie is required")
	}
	return nil
}
