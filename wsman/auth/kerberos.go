package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"
	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/keytab"
	"github.com/go-krb5/krb5/spnego"
)

// DefaultKrb5Conf is used when neither the config nor KRB5_CONFIG names a file.
const DefaultKrb5Conf = "/etc/krb5.conf"

// KerberosConfig selects the source of the Kerberos ticket. A keytab wins
// over a credential cache, which wins over a password.
type KerberosConfig struct {
	// TargetSPN is the service principal, see TargetSPN.
	TargetSPN string

	// Realm defaults to the suffix of a user@REALM username.
	Realm string

	Krb5ConfPath string
	KeytabPath   string
	CCachePath   string

	// Credentials supply the username for a keytab and the password
	// otherwise.
	Credentials *Credentials
}

// KerberosProvider is a SecurityProvider on the pure Go krb5 client. It
// produces a single AP-REQ and does not verify the server's reply, so it is
// only used on TLS listeners.
type KerberosProvider struct {
	cl   *client.Client
	spn  string
	sent bool
}

// TargetSPN derives the WinRM service principal for a host.
func TargetSPN(hostname string) string {
	return "HTTP/" + strings.ToLower(hostname)
}

// NewKerberosProvider loads krb5.conf and builds the client. No KDC traffic
// happens until the first Step.
func NewKerberosProvider(cfg KerberosConfig) (*KerberosProvider, error) {
	if cfg.TargetSPN == "" {
		return nil, errors.New("kerberos: target SPN is required")
	}
	conf, err := loadKrb5Conf(cfg.Krb5ConfPath)
	if err != nil {
		return nil, err
	}
	cl, err := newKrb5Client(cfg, conf)
	if err != nil {
		return nil, err
	}
	return &KerberosProvider{cl: cl, spn: cfg.TargetSPN}, nil
}

func loadKrb5Conf(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("KRB5_CONFIG")
	}
	if path == "" {
		path = DefaultKrb5Conf
	}
	conf, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("kerberos: load %s: %w", path, err)
	}
	return conf, nil
}

// principal splits the configured username into name and realm.
func principal(cfg KerberosConfig) (string, string) {
	if cfg.Credentials == nil {
		return "", cfg.Realm
	}
	name := cfg.Credentials.Username
	if user, realm, ok := strings.Cut(name, "@"); ok && cfg.Realm == "" {
		return user, strings.ToUpper(realm)
	}
	return name, cfg.Realm
}

func newKrb5Client(cfg KerberosConfig, conf *config.Config) (*client.Client, error) {
	noFAST := client.DisablePAFXFAST(true)
	user, realm := principal(cfg)

	switch {
	case cfg.KeytabPath != "":
		if user == "" {
			return nil, errors.New("kerberos: keytab requires a username")
		}
		kt, err := keytab.Load(cfg.KeytabPath)
		if err != nil {
			return nil, fmt.Errorf("kerberos: load keytab %s: %w", cfg.KeytabPath, err)
		}
		return client.NewWithKeytab(user, realm, kt, conf, noFAST), nil
	case cfg.CCachePath != "":
		cc, err := credentials.LoadCCache(cfg.CCachePath)
		if err != nil {
			return nil, fmt.Errorf("kerberos: load ccache %s: %w", cfg.CCachePath, err)
		}
		cl, err := client.NewFromCCache(cc, conf, noFAST)
		if err != nil {
			return nil, fmt.Errorf("kerberos: client from ccache: %w", err)
		}
		return cl, nil
	case cfg.Credentials != nil:
		return client.NewWithPassword(user, realm, cfg.Credentials.Password, conf, noFAST), nil
	}
	return nil, errors.New("kerberos: no keytab, ccache or password provided")
}

// Step implements SecurityProvider. The first call logs in and returns the
// initial SPNEGO token; later calls accept the server token as final.
func (p *KerberosProvider) Step(_ context.Context, input []byte) ([]byte, bool, error) {
	if p.sent {
		return nil, false, nil
	}
	if len(input) > 0 {
		return nil, false, errors.New("kerberos: server token received before the client token was sent")
	}
	if err := p.cl.Login(); err != nil {
		return nil, false, fmt.Errorf("kerberos login: %w", err)
	}
	tkn, err := spnego.SPNEGOClient(p.cl, p.spn).InitSecContext()
	if err != nil {
		return nil, false, fmt.Errorf("kerberos init context: %w", err)
	}
	token, err := tkn.Marshal()
	if err != nil {
		return nil, false, fmt.Errorf("kerberos marshal token: %w", err)
	}
	p.sent = true
	return token, false, nil
}

// Complete implements SecurityProvider.
func (p *KerberosProvider) Complete() bool { return p.sent }

// Close destroys the client's tickets.
func (p *KerberosProvider) Close() error {
	p.cl.Destroy()
	return nil
}
