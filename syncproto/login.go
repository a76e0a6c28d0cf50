package syncproto

import (
	"crypto/rand"
	"fmt"

	"asc.dev/asc/hash"
	"asc.dev/asc/key"
	"asc.dev/asc/repo"
	"asc.dev/asc/user"
)

// ServerSecret is the random per-conversation challenge a server issues a
// client to sign, proving control of its private key without the key ever
// crossing the wire.
type ServerSecret [32]byte

type loginChallenge struct {
	OK     bool         `msgpack:"ok"`
	Secret ServerSecret `msgpack:"secret,omitempty"`
	Error  string       `msgpack:"error,omitempty"`
}

type loginResult struct {
	OK    bool   `msgpack:"ok"`
	Error string `msgpack:"error,omitempty"`
}

// LoginAs authenticates as usr over stream for a pull or push conversation:
// it sends the project code the local repository believes it's talking to,
// signs the server's random challenge, and surfaces an error if the server
// rejects either the project code, the signature, or the permission check
// the server runs against the resolved user.
func LoginAs(usr user.User, stream Stream, projectCode hash.ObjectHash) error {
	if usr.PrivateKey == nil {
		return fmt.Errorf("login as %q: no private key available", usr.Name)
	}

	if err := stream.Send(projectCode); err != nil {
		return fmt.Errorf("login: send project code: %w", err)
	}

	var challenge loginChallenge
	if err := stream.Receive(&challenge); err != nil {
		return fmt.Errorf("login: receive challenge: %w", err)
	}
	if !challenge.OK {
		return fmt.Errorf("login rejected: %s", challenge.Error)
	}

	sig, err := usr.PrivateKey.Sign(challenge.Secret[:])
	if err != nil {
		return fmt.Errorf("login: sign challenge: %w", err)
	}
	if err := stream.Send(sig); err != nil {
		return fmt.Errorf("login: send signature: %w", err)
	}

	var result loginResult
	if err := stream.Receive(&result); err != nil {
		return fmt.Errorf("login: receive result: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("login rejected: %s", result.Error)
	}
	return nil
}

// HandleLogin runs the server side of the login handshake for pull/push: it
// checks the client's project code, issues a random challenge, verifies the
// returned signature, looks up the signing user, and runs validateUser
// against it (a permission check specific to the calling conversation - can
// Pull for pull, can Push for push). It returns the authenticated user on
// success.
func HandleLogin(r *repo.Repository, stream Stream, validateUser func(user.User) error) (user.User, error) {
	var clientProjectCode hash.ObjectHash
	if err := stream.Receive(&clientProjectCode); err != nil {
		return user.User{}, fmt.Errorf("handle login: receive project code: %w", err)
	}
	if clientProjectCode != r.ProjectCode {
		_ = stream.Send(loginChallenge{OK: false, Error: "project code mismatch"})
		return user.User{}, fmt.Errorf("handle login: client presented the wrong project code")
	}

	secret, err := randomSecret()
	if err != nil {
		return user.User{}, fmt.Errorf("handle login: %w", err)
	}
	if err := stream.Send(loginChallenge{OK: true, Secret: secret}); err != nil {
		return user.User{}, fmt.Errorf("handle login: send challenge: %w", err)
	}

	usr, err := verifyChallengeResponse(r, stream, secret)
	if err != nil {
		return user.User{}, err
	}

	if err := validateUser(usr); err != nil {
		_ = stream.Send(loginResult{OK: false, Error: err.Error()})
		return user.User{}, fmt.Errorf("handle login: %w", err)
	}

	if err := stream.Send(loginResult{OK: true}); err != nil {
		return user.User{}, fmt.Errorf("handle login: send result: %w", err)
	}
	return usr, nil
}

func randomSecret() (ServerSecret, error) {
	var secret ServerSecret
	if _, err := rand.Read(secret[:]); err != nil {
		return secret, fmt.Errorf("generate challenge: %w", err)
	}
	return secret, nil
}

// verifyChallengeResponse receives the client's signature over secret,
// checks it, and resolves it to a known user - the portion of the
// handshake shared between HandleLogin and clone's own stripped-down
// mini-login.
func verifyChallengeResponse(r *repo.Repository, stream Stream, secret ServerSecret) (user.User, error) {
	var sig key.Signature
	if err := stream.Receive(&sig); err != nil {
		return user.User{}, fmt.Errorf("handle login: receive signature: %w", err)
	}
	if err := sig.Check(secret[:]); err != nil {
		_ = stream.Send(loginResult{OK: false, Error: "signature verification failed"})
		return user.User{}, fmt.Errorf("handle login: %w", err)
	}

	usr, ok := r.Users.GetUser(sig.Key)
	if !ok {
		_ = stream.Send(loginResult{OK: false, Error: "no such user"})
		return user.User{}, fmt.Errorf("handle login: signing key matches no known user")
	}
	return usr, nil
}
