package discovery

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Credential is the SSH login supplied with a scan request.
type Credential struct {
	Username   string
	Password   string
	PrivateKey []byte // PEM encoded
	Passphrase string
}

// String never includes secrets so a Credential can end up in logs safely.
func (c Credential) String() string {
	method := "none"
	switch {
	case len(c.PrivateKey) > 0 && c.Password != "":
		method = "publickey,password"
	case len(c.PrivateKey) > 0:
		method = "publickey"
	case c.Password != "":
		method = "password"
	}
	return fmt.Sprintf("%s (%s)", c.Username, method)
}

func (c Credential) validate() error {
	if c.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if c.Password == "" && len(c.PrivateKey) == 0 {
		return fmt.Errorf("%w: password or private key is required", ErrInvalidInput)
	}
	return nil
}

// authMethods offers the private key first, then the password both as
// "password" and "keyboard-interactive" since many sshd setups only enable
// the latter.
func (c Credential) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if len(c.PrivateKey) > 0 {
		signer, err := c.signer()
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		password := c.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	return methods, nil
}

func (c Credential) signer() (ssh.Signer, error) {
	if c.Passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(c.PrivateKey, []byte(c.Passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(c.PrivateKey)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.New("private key is encrypted and no passphrase was given")
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// hostKeyCallback builds the host key policy for one call.
func (c Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.KnownHostsFile != "" {
		cb, err := knownhosts.New(c.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: load known hosts: %v", ErrInvalidInput, err)
		}
		return cb, nil
	}
	if c.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, fmt.Errorf("%w: no host key policy configured", ErrInvalidInput)
}
