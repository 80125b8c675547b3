package config

// BoolPtr returns a pointer to b, for the optional *bool fields used
// throughout this package to distinguish "unset" from "explicitly false".
func BoolPtr(b bool) *bool { return &b }
