// Package account synthesizes user accounts into an image without running
// anything inside it: the base image's passwd, group and shadow databases are
// read from its flattened filesystem, the declared accounts are appended, and
// the rewritten files come back as one extra layer.
package account

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/GehirnInc/crypt/sha512_crypt"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
)

const (
	passwdPath = "etc/passwd"
	groupPath  = "etc/group"
	shadowPath = "etc/shadow"

	// uidFloor is where allocation starts for regular accounts, matching
	// UID_MIN on Debian/Ubuntu
	uidFloor = 1000

	// shadowLastChange is a fixed day count so two builds from the same
	// descriptor produce identical layers
	shadowLastChange = 20000

	saltChars = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// BaseFiles holds the account databases read from the base image.
type BaseFiles struct {
	Passwd []byte
	Group  []byte
	Shadow []byte
}

// Resolved reports the identity an account got after uid/gid allocation.
type Resolved struct {
	Name string
	Uid  int
	Gid  int
	Home string
}

// FromImage reads the account databases from the flattened base filesystem.
// A base without /etc/passwd (e.g. scratch) yields empty databases.
func FromImage(img v1.Image) (*BaseFiles, error) {
	rc := mutate.Extract(img)
	defer rc.Close()

	base := &BaseFiles{}
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extract base filesystem: %w", err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(hdr.Name, "./"), "/")
		switch name {
		case passwdPath, groupPath, shadowPath:
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read %s from base: %w", name, err)
			}
			switch name {
			case passwdPath:
				base.Passwd = content
			case groupPath:
				base.Group = content
			case shadowPath:
				base.Shadow = content
			}
		}
	}
	return base, nil
}

// Layer appends the declared accounts to the base databases and returns the
// rewritten files plus home directories as one reproducible layer.
func Layer(base *BaseFiles, accounts []schema.Account) (v1.Layer, []Resolved, error) {
	passwd := parsePasswd(base.Passwd)
	groups := parseGroup(base.Group)

	uids := make(map[int]bool)
	names := make(map[string]bool)
	for _, e := range passwd {
		uids[e.Uid] = true
		names[e.Name] = true
	}
	gids := make(map[int]bool)
	groupIndex := make(map[string]int)
	for i, g := range groups {
		gids[g.Gid] = true
		groupIndex[g.Name] = i
	}

	shadowBuf := bytes.NewBuffer(bytes.TrimRight(base.Shadow, "\n"))
	if shadowBuf.Len() > 0 {
		shadowBuf.WriteByte('\n')
	}
	passwdBuf := bytes.NewBuffer(bytes.TrimRight(base.Passwd, "\n"))
	if passwdBuf.Len() > 0 {
		passwdBuf.WriteByte('\n')
	}

	resolved := make([]Resolved, 0, len(accounts))
	for _, account := range accounts {
		if names[account.Name] {
			return nil, nil, fmt.Errorf("account %s already exists in base image", account.Name)
		}
		names[account.Name] = true

		uid := account.Uid
		if uid == 0 {
			uid = nextFreeId(uids, uidFloor)
		} else if uids[uid] {
			return nil, nil, fmt.Errorf("uid %d for account %s already taken in base image", uid, account.Name)
		}
		uids[uid] = true

		gid := account.Gid
		if gid == 0 {
			// primary group named after the account
			gid = nextFreeId(gids, uidFloor)
			groups = append(groups, groupEntry{Name: account.Name, Gid: gid})
			groupIndex[account.Name] = len(groups) - 1
		}
		gids[gid] = true

		home := account.Home
		if home == "" {
			home = "/home/" + account.Name
		}
		shell := account.Shell
		if shell == "" {
			shell = "/bin/bash"
		}

		fmt.Fprintf(passwdBuf, "%s\n", passwdEntry{
			Name:  account.Name,
			Uid:   uid,
			Gid:   gid,
			Home:  home,
			Shell: shell,
		})
		fmt.Fprintf(shadowBuf, "%s\n", shadowEntry{
			Name:       account.Name,
			Hash:       passwordHash(account),
			LastChange: shadowLastChange,
		})

		for _, groupName := range account.Groups {
			i, exists := groupIndex[groupName]
			if !exists {
				g := nextFreeId(gids, uidFloor)
				gids[g] = true
				groups = append(groups, groupEntry{Name: groupName, Gid: g})
				i = len(groups) - 1
				groupIndex[groupName] = i
			}
			groups[i].Members = append(groups[i].Members, account.Name)
		}

		resolved = append(resolved, Resolved{Name: account.Name, Uid: uid, Gid: gid, Home: home})
		zap.L().Info("account",
			zap.String("name", account.Name),
			zap.Int("uid", uid),
			zap.Int("gid", gid),
			zap.Strings("groups", account.Groups),
		)
	}

	groupBuf := &bytes.Buffer{}
	for _, g := range groups {
		fmt.Fprintf(groupBuf, "%s\n", g)
	}

	layer, err := accountLayer(passwdBuf.Bytes(), groupBuf.Bytes(), shadowBuf.Bytes(), resolved)
	if err != nil {
		return nil, nil, err
	}
	return layer, resolved, nil
}

// passwordHash produces a shadow-compatible sha512-crypt hash. The salt is
// derived from the account itself so the layer stays reproducible. An
// account without a password is locked.
func passwordHash(account schema.Account) string {
	if account.Password == "" {
		return "*"
	}
	sum := sha256.Sum256([]byte(account.Name + ":" + account.Password))
	salt := make([]byte, 8)
	for i := range salt {
		salt[i] = saltChars[int(sum[i])%len(saltChars)]
	}
	hash, err := sha512_crypt.New().Generate([]byte(account.Password), []byte("$6$"+string(salt)))
	if err != nil {
		// Generate only fails on malformed salt
		zap.L().Fatal("password hash", zap.String("account", account.Name), zap.Error(err))
	}
	return hash
}

func accountLayer(passwd, group, shadow []byte, resolved []Resolved) (v1.Layer, error) {
	b := &bytes.Buffer{}
	w := tar.NewWriter(b)

	files := []struct {
		path    string
		content []byte
		mode    int64
	}{
		{passwdPath, passwd, 0644},
		{groupPath, group, 0644},
		{shadowPath, shadow, 0640},
	}
	for _, f := range files {
		if err := w.WriteHeader(&tar.Header{
			Name:     f.path,
			Size:     int64(len(f.content)),
			Mode:     f.mode,
			Typeflag: tar.TypeReg,
		}); err != nil {
			return nil, err
		}
		if _, err := w.Write(f.content); err != nil {
			return nil, err
		}
	}

	for _, r := range resolved {
		if err := w.WriteHeader(&tar.Header{
			Name:     strings.TrimPrefix(r.Home, "/"),
			Mode:     0750,
			Uid:      r.Uid,
			Gid:      r.Gid,
			Typeflag: tar.TypeDir,
		}); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewBuffer(b.Bytes())), nil
	})
}
