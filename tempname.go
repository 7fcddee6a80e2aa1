package osl

// Alphabet temporary file names are drawn from.
const tempChars = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789"

// TempFilename appends 15 random alphanumeric characters to prefix,
// regenerating the whole name while exists reports a collision. Hosts
// supply the prefix (their temp directory plus [TempFilePrefix]) and
// the existence check.
func TempFilename(prefix string, exists func(string) bool) string {
	buf := make([]byte, 15)
	for {
		randomFill(buf)
		for i := range buf {
			buf[i] = tempChars[buf[i]%byte(len(tempChars))]
		}
		name := prefix + string(buf)
		if !exists(name) {
			trace("TEMP FILENAME: %s", name)
			return name
		}
	}
}
