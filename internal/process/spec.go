package process

// Configuration keys consumed when building an argument vector.
const (
	KeyPerl     = "perl"
	KeyReceiver = "receiver"
	KeySender   = "sender"
)

// Settings resolves configuration values by key. Implementations return an
// error when a key is absent or empty.
type Settings interface {
	Setting(key string) (string, error)
}

// BuildArgs produces the argument vector for a wrapped script:
//
//	[perl, <binKey>, -runfolder, runfolder, -mail, receiver, -sender, sender]
//
// It has no side effects and only fails when a setting lookup fails.
func BuildArgs(s Settings, binKey, runfolder string) ([]string, error) {
	perl, err := s.Setting(KeyPerl)
	if err != nil {
		return nil, err
	}
	bin, err := s.Setting(binKey)
	if err != nil {
		return nil, err
	}
	receiver, err := s.Setting(KeyReceiver)
	if err != nil {
		return nil, err
	}
	sender, err := s.Setting(KeySender)
	if err != nil {
		return nil, err
	}
	return []string{
		perl, bin,
		"-runfolder", runfolder,
		"-mail", receiver,
		"-sender", sender,
	}, nil
}
