package lockspec

// Merge combines source specifications into one canonical specification.
// Deterministic: the same ordered input always produces the same output.
//
// Rules:
//   - channels are unioned in first-seen order
//   - platforms are unioned in first-seen order
//   - a later entry for the same (name, category) replaces the earlier one
//     entirely, keeping the earlier one's position
//   - two entries for the same slot asserting different managers, neither of
//     them explicit, is a SpecConflictError
func Merge(specs []*LockSpecification) (*LockSpecification, error) {
	merged := &LockSpecification{
		Channels:  []Channel{},
		Platforms: []string{},
		Sources:   []string{},
	}

	seenChannel := map[string]struct{}{}
	seenPlatform := map[string]struct{}{}
	seenSource := map[string]struct{}{}
	slot := map[string]int{} // dependency key -> index in merged.Dependencies

	for _, spec := range specs {
		if spec == nil {
			continue
		}

		for _, ch := range spec.Channels {
			if _, ok := seenChannel[ch.URL]; ok {
				continue
			}
			seenChannel[ch.URL] = struct{}{}
			merged.Channels = append(merged.Channels, ch)
		}

		for _, p := range spec.Platforms {
			if _, ok := seenPlatform[p]; ok {
				continue
			}
			seenPlatform[p] = struct{}{}
			merged.Platforms = append(merged.Platforms, p)
		}

		for _, src := range spec.Sources {
			if _, ok := seenSource[src]; ok {
				continue
			}
			seenSource[src] = struct{}{}
			merged.Sources = append(merged.Sources, src)
		}

		for _, dep := range spec.Dependencies {
			key := dep.Key()
			if idx, ok := slot[key]; ok {
				prev := merged.Dependencies[idx]
				if prev.Manager != dep.Manager && !prev.ManagerExplicit && !dep.ManagerExplicit {
					return nil, &SpecConflictError{
						Name:     dep.Name,
						Category: dep.Category,
						Earlier:  prev.Manager,
						Later:    dep.Manager,
					}
				}
				// Later source wins wholesale; no field-level merging.
				merged.Dependencies[idx] = dep
				continue
			}
			slot[key] = len(merged.Dependencies)
			merged.Dependencies = append(merged.Dependencies, dep)
		}

		for platform, overrides := range spec.VirtualPackages {
			if merged.VirtualPackages == nil {
				merged.VirtualPackages = map[string]map[string]string{}
			}
			if merged.VirtualPackages[platform] == nil {
				merged.VirtualPackages[platform] = map[string]string{}
			}
			for name, version := range overrides {
				merged.VirtualPackages[platform][name] = version
			}
		}
	}

	return merged, nil
}

// RestrictToPlatform narrows a specification to a single platform, dropping
// dependencies whose selector excludes it.
func RestrictToPlatform(spec *LockSpecification, platform string) (*LockSpecification, error) {
	if !spec.HasPlatform(platform) {
		return nil, &NoPlatformError{Platform: platform}
	}

	restricted := &LockSpecification{
		Channels:     spec.Channels,
		Platforms:    []string{platform},
		Dependencies: spec.DependenciesFor(platform),
		Sources:      spec.Sources,
	}
	if overrides, ok := spec.VirtualPackages[platform]; ok {
		restricted.VirtualPackages = map[string]map[string]string{platform: overrides}
	}
	return restricted, nil
}

// FilterCategories keeps only dependencies belonging to the wanted
// categories. Used for pre-solve filtering when extras are mutually
// incompatible; the default flow solves everything and filters at query time.
func FilterCategories(spec *LockSpecification, wanted map[string]bool) *LockSpecification {
	filtered := &LockSpecification{
		Channels:        spec.Channels,
		Platforms:       spec.Platforms,
		Sources:         spec.Sources,
		VirtualPackages: spec.VirtualPackages,
	}
	for _, d := range spec.Dependencies {
		if wanted[d.Category] {
			filtered.Dependencies = append(filtered.Dependencies, d)
		}
	}
	return filtered
}
