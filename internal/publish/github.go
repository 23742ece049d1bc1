// Package publish uploads finished digest MP3s to the release store and
// records their public URLs.
package publish

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/pipeline"
)

// ReleaseTag is the release-store tag for one digest date.
func ReleaseTag(date string) string { return "digest-" + date }

// ReleaseStore wraps the GitHub releases API behind the narrow contract
// the publisher and retention need: create-or-get by tag, attach asset,
// list assets, delete release.
type ReleaseStore struct {
	client *github.Client
	owner  string
	repo   string
	log    zerolog.Logger
}

// NewReleaseStore builds a store for "owner/name". When token is empty the
// gh CLI's stored credentials are used as the fallback authentication path.
func NewReleaseStore(repoSpec, token string, log zerolog.Logger) (*ReleaseStore, error) {
	owner, repo, ok := strings.Cut(repoSpec, "/")
	if !ok || owner == "" || repo == "" {
		return nil, &pipeline.ConfigError{Msg: fmt.Sprintf("RELEASE_REPO %q must be owner/name", repoSpec)}
	}

	if token == "" {
		var err error
		token, err = ghCLIToken()
		if err != nil {
			return nil, &pipeline.ConfigError{
				Msg: fmt.Sprintf("no GITHUB_TOKEN and gh CLI fallback failed: %v", err)}
		}
		log.Debug().Msg("release store using gh CLI credentials")
	}

	return &ReleaseStore{
		client: github.NewClient(nil).WithAuthToken(token),
		owner:  owner,
		repo:   repo,
		log:    log,
	}, nil
}

// ghCLIToken shells out to `gh auth token` for environments without a raw
// token in the environment.
func ghCLIToken() (string, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return "", &pipeline.ExternalToolError{Tool: "gh", Err: err}
	}
	out, err := exec.Command("gh", "auth", "token").Output()
	if err != nil {
		return "", fmt.Errorf("gh auth token: %w", err)
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", fmt.Errorf("gh auth token returned nothing")
	}
	return token, nil
}

// EnsureRelease returns the release for the tag, creating it if missing.
func (rs *ReleaseStore) EnsureRelease(ctx context.Context, tag, name, body string) (*github.RepositoryRelease, error) {
	rel, resp, err := rs.client.Repositories.GetReleaseByTag(ctx, rs.owner, rs.repo, tag)
	if err == nil {
		return rel, nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return nil, fmt.Errorf("get release %s: %w", tag, err)
	}

	rel, _, err = rs.client.Repositories.CreateRelease(ctx, rs.owner, rs.repo, &github.RepositoryRelease{
		TagName: github.String(tag),
		Name:    github.String(name),
		Body:    github.String(body),
	})
	if err != nil {
		return nil, fmt.Errorf("create release %s: %w", tag, err)
	}
	rs.log.Info().Str("tag", tag).Msg("release created")
	return rel, nil
}

// FindAsset returns the download URL of an existing asset by name, or ""
// when the release doesn't carry it yet.
func (rs *ReleaseStore) FindAsset(ctx context.Context, releaseID int64, name string) (string, error) {
	opts := &github.ListOptions{PerPage: 100}
	for {
		assets, resp, err := rs.client.Repositories.ListReleaseAssets(ctx, rs.owner, rs.repo, releaseID, opts)
		if err != nil {
			return "", fmt.Errorf("list assets: %w", err)
		}
		for _, a := range assets {
			if a.GetName() == name {
				return a.GetBrowserDownloadURL(), nil
			}
		}
		if resp.NextPage == 0 {
			return "", nil
		}
		opts.Page = resp.NextPage
	}
}

// UploadAsset attaches a local file to the release and returns its public
// download URL.
func (rs *ReleaseStore) UploadAsset(ctx context.Context, releaseID int64, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open asset: %w", err)
	}
	defer f.Close()

	asset, _, err := rs.client.Repositories.UploadReleaseAsset(ctx, rs.owner, rs.repo, releaseID,
		&github.UploadOptions{Name: strings.ReplaceAll(filepath.Base(path), " ", "_")}, f)
	if err != nil {
		return "", fmt.Errorf("upload asset: %w", err)
	}
	return asset.GetBrowserDownloadURL(), nil
}

// DeleteReleaseByTag removes the release for the tag. A missing release is
// success — retention pruning is best-effort.
func (rs *ReleaseStore) DeleteReleaseByTag(ctx context.Context, tag string) error {
	rel, resp, err := rs.client.Repositories.GetReleaseByTag(ctx, rs.owner, rs.repo, tag)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("get release %s: %w", tag, err)
	}
	if _, err := rs.client.Repositories.DeleteRelease(ctx, rs.owner, rs.repo, rel.GetID()); err != nil {
		return fmt.Errorf("delete release %s: %w", tag, err)
	}
	rs.log.Info().Str("tag", tag).Msg("release deleted")
	return nil
}
