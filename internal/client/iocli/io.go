package iocli

// IO abstracts terminal interaction so commands can be tested with a fake.
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)
	Write(p []byte) (n int, err error)
}
