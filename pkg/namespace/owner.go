package namespace

import (
	"fmt"
	"os/user"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Owner is a numeric file owner.
type Owner struct {
	UID int
	GID int
}

const ownerCacheSize = 64

// Owners resolves user names to numeric identities and caches results.
type Owners struct {
	cache *lru.Cache[string, Owner]

	lookup func(string) (*user.User, error)
}

// NewOwners returns new Owners resolving names with the system user
// database.
func NewOwners() *Owners {
	c, err := lru.New[string, Owner](ownerCacheSize)
	if err != nil {
		// only non-positive size is rejected
		panic(err)
	}

	return &Owners{cache: c, lookup: user.Lookup}
}

// Lookup returns numeric identity of the user name. Numeric names are
// accepted as is with the group equal to the user.
func (o *Owners) Lookup(name string) (Owner, error) {
	if own, ok := o.cache.Get(name); ok {
		return own, nil
	}

	var own Owner
	if uid, err := strconv.Atoi(name); err == nil {
		own = Owner{UID: uid, GID: uid}
	} else {
		u, err := o.lookup(name)
		if err != nil {
			return Owner{}, fmt.Errorf("lookup user %s: %w", name, err)
		}

		own.UID, err = strconv.Atoi(u.Uid)
		if err != nil {
			return Owner{}, fmt.Errorf("non-numeric uid %q of %s", u.Uid, name)
		}
		own.GID, err = strconv.Atoi(u.Gid)
		if err != nil {
			return Owner{}, fmt.Errorf("non-numeric gid %q of %s", u.Gid, name)
		}
	}

	o.cache.Add(name, own)

	return own, nil
}
