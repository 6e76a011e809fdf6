package state

import (
	"fmt"

	"Press3/internal/registry"
)

// apply executes one registry call on content as sender.
//
//	register_page:       admins only; the path must not exist yet
//	update_page_content: admins or editors of the page
//	set_editors:         admins only
//
// Indexed calls must name the path stored at their index. Every path must
// already be in canonical form.
func apply(content *RegistryContent, sender registry.Identity, m registry.Mutation) error {
	if err := registry.ValidatePath(m.Path); err != nil {
		return err
	}

	if registry.NormalizePath(m.Path) != m.Path {
		return fmt.Errorf("page path %q is not canonical", m.Path)
	}

	admin := isMember(content.Admins, sender)

	switch m.Kind {
	case registry.Register:
		if !admin {
			return fmt.Errorf("%s is not an admin", sender)
		}

		for _, p := range content.Pages {
			if p.Path == m.Path {
				return fmt.Errorf("page %s already registered", m.Path)
			}
		}

		editors, err := normalizeAll(m.Editors)
		if err != nil {
			return err
		}

		content.Pages = append(content.Pages, registry.PageRecord{
			Path:       m.Path,
			ContentRef: m.ContentRef,
			Editors:    editors,
		})

	case registry.Update:
		page, err := pageAt(content, m.Index, m.Path)
		if err != nil {
			return err
		}

		if !admin && !isMember(page.Editors, sender) {
			return fmt.Errorf("%s may not edit %s", sender, m.Path)
		}

		page.ContentRef = m.ContentRef

	case registry.SetEditors:
		if !admin {
			return fmt.Errorf("%s is not an admin", sender)
		}

		page, err := pageAt(content, m.Index, m.Path)
		if err != nil {
			return err
		}

		editors, err := normalizeAll(m.Editors)
		if err != nil {
			return err
		}

		page.Editors = editors

	default:
		return fmt.Errorf("unknown mutation %s", m.Kind)
	}

	return nil
}

// pageAt returns the page at index after checking it holds path.
func pageAt(content *RegistryContent, index uint64, path string) (*registry.PageRecord, error) {
	if index >= uint64(len(content.Pages)) {
		return nil, fmt.Errorf("index %d out of range (%d pages)", index, len(content.Pages))
	}

	page := &content.Pages[index]
	if page.Path != path {
		return nil, fmt.Errorf("index %d holds %s, not %s", index, page.Path, path)
	}

	return page, nil
}

// normalizeAll canonicalizes identities, failing on the first malformed one.
func normalizeAll(ids []registry.Identity) ([]registry.Identity, error) {
	out := make([]registry.Identity, 0, len(ids))

	for _, id := range ids {
		n, err := registry.NormalizeIdentity(id)
		if err != nil {
			return nil, err
		}

		out = append(out, n)
	}

	return out, nil
}

// isMember reports whether id is in set.
func isMember(set []registry.Identity, id registry.Identity) bool {
	for _, s := range set {
		if s == id {
			return true
		}
	}

	return false
}
