package transcode

import "context"

// Run starts d and blocks until it exits or ctx is done. A non-zero exit is
// returned as the process error; on ctx expiry the process is terminated and
// ctx.Err() is returned.
func Run(ctx context.Context, r Runner, d Descriptor) error {
	result := make(chan error, 1)
	p, err := r.Start(d, Hooks{
		Error: func(err error) { result <- err },
		End:   func() { result <- nil },
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		p.Terminate()
		return ctx.Err()
	}
}
