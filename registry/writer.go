package registry

import "github.com/tomasmach/personabridge/errkind"

type mutationKind int

const (
	mutAdd mutationKind = iota
	mutAddUserAlias
	mutRemove
)

type mutation struct {
	kind mutationKind

	personality   *Personality // mutAdd
	userID        string       // mutAddUserAlias, mutRemove (acting user)
	alias         string       // mutAddUserAlias
	personalityID string       // mutAddUserAlias, mutRemove

	result chan mutationResult
}

type mutationResult struct {
	personality *Personality
	err         error
}

// writer is the single goroutine through which every mutation is
// serialized (spec §4.3: "writes are serialized through a single writer
// task"). It owns the authoritative slice/map state and installs a fresh
// snapshot after each successful mutation; readers never see a torn state.
func (r *Registry) writer() {
	personalities := append([]*Personality(nil), r.current().personalities...)
	globalAliases := copyStringMap(r.current().globalAliases)
	userAliases := make(map[string]map[string]string, len(r.current().userAliases))
	for u, m := range r.current().userAliases {
		userAliases[u] = copyStringMap(m)
	}

	install := func() {
		r.snap.Store(&snapshot{
			personalities: append([]*Personality(nil), personalities...),
			globalAliases: copyStringMap(globalAliases),
			userAliases:   copyUserAliases(userAliases),
		})
		if r.store != nil {
			_ = r.store.Save(snapshotToDocument(&snapshot{personalities: personalities, globalAliases: globalAliases, userAliases: userAliases}))
		}
	}

	findIndex := func(id string) int {
		for i, p := range personalities {
			if p.ID == id {
				return i
			}
		}
		return -1
	}

	for m := range r.mutate {
		switch m.kind {
		case mutAdd:
			if findIndex(m.personality.ID) >= 0 {
				m.result <- mutationResult{err: errkind.Newf(errkind.Internal, nil, "personality id %q already exists", m.personality.ID)}
				continue
			}
			personalities = append(personalities, m.personality)
			autoAlias := fold(m.personality.DisplayName)
			if autoAlias != "" {
				if _, taken := globalAliases[autoAlias]; !taken {
					globalAliases[autoAlias] = m.personality.ID
				}
			}
			install()
			m.result <- mutationResult{personality: m.personality}

		case mutAddUserAlias:
			key := fold(m.alias)
			if existingID, ok := globalAliases[key]; ok && existingID != m.personalityID {
				m.result <- mutationResult{err: errkind.Newf(errkind.Internal, nil, "alias %q collides with an existing global alias", m.alias)}
				continue
			}
			if findIndex(m.personalityID) < 0 {
				m.result <- mutationResult{err: errkind.New(errkind.PersonalityNotFound, nil, "personality not found")}
				continue
			}
			byUser, ok := userAliases[m.userID]
			if !ok {
				byUser = make(map[string]string)
				userAliases[m.userID] = byUser
			}
			byUser[key] = m.personalityID
			install()
			m.result <- mutationResult{}

		case mutRemove:
			idx := findIndex(m.personalityID)
			if idx < 0 {
				m.result <- mutationResult{err: errkind.New(errkind.PersonalityNotFound, nil, "personality not found")}
				continue
			}
			owner := personalities[idx].OwnerUserID
			if !r.isAuthorized(owner, m.userID) {
				m.result <- mutationResult{err: errkind.New(errkind.PolicyBlocked, nil, "not authorized to remove this personality")}
				continue
			}
			personalities = append(personalities[:idx], personalities[idx+1:]...)
			for alias, id := range globalAliases {
				if id == m.personalityID {
					delete(globalAliases, alias)
				}
			}
			for _, byUser := range userAliases {
				for alias, id := range byUser {
					if id == m.personalityID {
						delete(byUser, alias)
					}
				}
			}
			install()
			m.result <- mutationResult{}
		}
	}
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyUserAliases(m map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(m))
	for u, inner := range m {
		out[u] = copyStringMap(inner)
	}
	return out
}
