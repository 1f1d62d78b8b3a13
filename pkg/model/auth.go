package model

// SearchAuth binds a request to the caller's authorization context. It is
// mandatory whenever the backend's global auth-mode flag is on.
type SearchAuth struct {
	Datasets []string
	LoggedIn bool
	IsAdmin  bool
}

// Authorized reports whether the set of datasets named here would pass
// authorization for dataset d (admins pass everything).
func (a SearchAuth) Authorized(dataset string) bool {
	if a.IsAdmin {
		return true
	}
	for _, d := range a.Datasets {
		if d == dataset {
			return true
		}
	}
	return false
}
