package cmdutil

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/marmos91/cifscore/internal/cli/prompt"
	"github.com/marmos91/cifscore/pkg/cifs"
	"github.com/marmos91/cifscore/pkg/config"
	"golang.org/x/term"
)

// PasswordEnv is read when --password is not given.
const PasswordEnv = "CIFSCTL_PASSWORD"

// Target is a share to bind together with the identity to bind it as.
type Target struct {
	Endpoint    cifs.Endpoint
	Share       string
	Credentials cifs.Credentials
}

// UNC returns the target as \\server\share.
func (t Target) UNC() string {
	return `\\` + t.Endpoint.Address + `\` + t.Share
}

// CredentialFlags are the per-command identity flags.
type CredentialFlags struct {
	Username      string
	Password      string
	Domain        string
	Method        string
	Variant       string
	SharePassword string
	Anonymous     bool
}

// ParseUNC splits \\server[:port]\share or //server[:port]/share.
func ParseUNC(s string) (server, share string, err error) {
	if !strings.HasPrefix(s, `\\`) && !strings.HasPrefix(s, "//") {
		return "", "", fmt.Errorf("%q is not a UNC path", s)
	}
	rest := strings.ReplaceAll(s[2:], "/", `\`)
	server, share, ok := strings.Cut(rest, `\`)
	share = strings.Trim(share, `\`)
	if !ok || server == "" || share == "" || strings.Contains(share, `\`) {
		return "", "", fmt.Errorf("%q: expected \\\\server\\share", s)
	}
	return server, share, nil
}

// ResolveTarget turns a UNC path or a mount name from cfg into a Target.
// Flags override the mount's credentials. A missing password is read from
// PasswordEnv and then prompted for when stdin is a terminal.
func ResolveTarget(cfg *config.Config, arg string, flags CredentialFlags) (Target, error) {
	var t Target
	if server, share, err := ParseUNC(arg); err == nil {
		t.Endpoint = cifs.Endpoint{Address: server}
		t.Share = share
	} else if strings.ContainsAny(arg, `\/`) {
		return Target{}, err
	} else {
		m, err := cfg.Mount(arg)
		if err != nil {
			return Target{}, err
		}
		t.Endpoint, t.Share, t.Credentials = m.Endpoint, m.Share, m.Credentials
	}

	applyFlags(&t.Credentials, flags)
	if flags.Anonymous {
		t.Credentials.Username, t.Credentials.Password = "", ""
		return t, nil
	}

	if t.Credentials.Username != "" && t.Credentials.Password == "" {
		t.Credentials.Password = os.Getenv(PasswordEnv)
	}
	if t.Credentials.Username != "" && t.Credentials.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		pw, err := prompt.Password(t.Credentials.Username, t.Endpoint.Address)
		if err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				return Target{}, ErrCanceled
			}
			return Target{}, err
		}
		t.Credentials.Password = pw
	}
	return t, nil
}

func applyFlags(c *cifs.Credentials, f CredentialFlags) {
	if f.Username != "" {
		user, domain := splitUser(f.Username)
		c.Username = user
		if domain != "" {
			c.Domain = domain
		}
	}
	if f.Password != "" {
		c.Password = f.Password
	}
	if f.Domain != "" {
		c.Domain = f.Domain
	}
	if f.Method != "" {
		c.Method = f.Method
	}
	if f.Variant != "" {
		c.Variant = f.Variant
	}
	if f.SharePassword != "" {
		c.SharePassword = f.SharePassword
	}
}

// splitUser accepts DOMAIN\user and user@domain.
func splitUser(s string) (user, domain string) {
	if d, u, ok := strings.Cut(s, `\`); ok {
		return u, d
	}
	if u, d, ok := strings.Cut(s, "@"); ok {
		return u, d
	}
	return s, ""
}
