package cidlink

// IsStructurallyValid applies cheap structural checks to a candidate
// identifier string: prefix, length and alphabet for the legacy base58 form
// and the v1 base32 form. It does not verify hash validity.
func IsStructurallyValid(s string) bool {
	if len(s) == 46 && s[0] == 'Q' && s[1] == 'm' {
		return isBase58(s[2:])
	}
	if len(s) >= 50 && len(s) <= 120 && s[0] == 'b' {
		return isBase32Lower(s[1:])
	}
	return false
}

func isBase58(s string) bool {
	for _, r := range s {
		switch {
		case r >= '1' && r <= '9':
		case r >= 'A' && r <= 'H':
		case r >= 'J' && r <= 'N':
		case r >= 'P' && r <= 'Z':
		case r >= 'a' && r <= 'k':
		case r >= 'm' && r <= 'z':
		default:
			return false
		}
	}
	return true
}

func isBase32Lower(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '2' && r <= '7':
		default:
			return false
		}
	}
	return true
}
