package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	identity "authguard/internal/identity/domain"
	identityrepo "authguard/internal/identity/repository"
	ipdomain "authguard/internal/ipallow/domain"
	iprepo "authguard/internal/ipallow/repository"
	"authguard/internal/security"
)

// File is the seed document.
//
//	identities:
//	  - id: owner-1
//	    role: owner
//	    identifier: "07501234567"
//	    secret: change-me
//	    phone: "9647501234567"
//	allow:
//	  - identity: owner-1
//	    cidr: 10.0.0.0/24
//	    note: office
type File struct {
	Identities []IdentitySeed `yaml:"identities"`
	Allow      []AllowSeed    `yaml:"allow"`
}

type IdentitySeed struct {
	ID         string `yaml:"id"`
	Role       string `yaml:"role"`
	Identifier string `yaml:"identifier"`
	Secret     string `yaml:"secret"`
	Phone      string `yaml:"phone"`
	Email      string `yaml:"email"`
}

// AllowSeed is an allow-list entry. An empty Identity makes it global.
type AllowSeed struct {
	Identity string `yaml:"identity"`
	CIDR     string `yaml:"cidr"`
	Note     string `yaml:"note"`
}

// Parse decodes and validates a seed document. Unknown fields are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	for i, s := range f.Identities {
		if s.ID == "" || s.Identifier == "" || s.Secret == "" {
			return nil, fmt.Errorf("identities[%d]: id, identifier and secret are required", i)
		}
		if _, err := identity.ParseRole(s.Role); err != nil {
			return nil, fmt.Errorf("identities[%d]: %w", i, err)
		}
	}
	for i, a := range f.Allow {
		if _, err := ipdomain.ParsePrefix(a.CIDR); err != nil {
			return nil, fmt.Errorf("allow[%d]: %w", i, err)
		}
	}
	return &f, nil
}

// Seeder writes a File. Existing identifiers and allow-list prefixes are left untouched.
type Seeder struct {
	Identities identityrepo.Repository
	AllowList  iprepo.Repository
	Hasher     *security.Hasher
	Now        func() time.Time
	Logger     *slog.Logger
}

// Result counts what Apply wrote.
type Result struct {
	Identities int
	Allow      int
}

func (s *Seeder) Apply(ctx context.Context, f *File) (Result, error) {
	var res Result
	for _, in := range f.Identities {
		existing, err := s.Identities.GetByIdentifier(ctx, identity.NormalizeIdentifier(in.Identifier))
		if err != nil {
			return res, err
		}
		if existing != nil {
			s.Logger.Info("identity exists, skipping", "identifier", in.Identifier)
			continue
		}
		role, _ := identity.ParseRole(in.Role)
		hash, err := s.Hasher.Hash([]byte(in.Secret))
		if err != nil {
			return res, err
		}
		err = s.Identities.Create(ctx, &identity.Identity{
			ID:         in.ID,
			Role:       role,
			Identifier: identity.NormalizeIdentifier(in.Identifier),
			SecretHash: hash,
			Status:     identity.StatusActive,
			Phone:      in.Phone,
			Email:      in.Email,
			CreatedAt:  s.Now(),
		})
		if errors.Is(err, identityrepo.ErrDuplicateIdentifier) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("create identity %s: %w", in.ID, err)
		}
		res.Identities++
	}

	for _, in := range f.Allow {
		prefix, _ := ipdomain.ParsePrefix(in.CIDR)
		current, err := s.AllowList.ListActiveFor(ctx, in.Identity)
		if err != nil {
			return res, err
		}
		if hasPrefix(current, in.Identity, prefix.String()) {
			continue
		}
		if err := s.AllowList.Create(ctx, &ipdomain.Entry{
			ID:         uuid.NewString(),
			IdentityID: in.Identity,
			Prefix:     prefix,
			Active:     true,
			Note:       in.Note,
			CreatedAt:  s.Now(),
		}); err != nil {
			return res, fmt.Errorf("create allow entry %s: %w", in.CIDR, err)
		}
		res.Allow++
	}
	return res, nil
}

func hasPrefix(entries []*ipdomain.Entry, identityID, prefix string) bool {
	for _, e := range entries {
		if e.IdentityID == identityID && e.Prefix.String() == prefix {
			return true
		}
	}
	return false
}
