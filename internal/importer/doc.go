// Package importer is the client side of the bulk import pipeline.
//
// A file moves through four pieces:
//
//   - [Uploader] slices the file into fixed-size chunks and sends them in
//     order, retrying transient failures, and yields an upload id.
//   - [Controller] owns the job state machine and issues the start, cancel
//     and retry requests.
//   - [Poller] fetches the job status on an interval and stops on a terminal
//     snapshot.
//   - [ErrorReport] accumulates the error count and remembers the report link.
//
// [Session] wires them together for one file:
//
//	client := importer.NewClient(http.DefaultClient, token, importer.DefaultEndpoints(baseURL))
//	s := importer.NewSession(client, importer.SessionConfig{BaseURL: baseURL})
//	defer s.Close()
//
//	if _, err := s.Upload(ctx, file); err != nil {
//	    return err
//	}
//	s.Configure(importer.ImportConfig{Dataset: "products", Reference: "categories"})
//	if _, err := s.Start(ctx); err != nil {
//	    return err
//	}
//	job, err := s.Wait(ctx)
//
// Every request carries the anti-forgery token returned by the configured
// [TokenProvider].
//
// # Errors
//
// Upload failures are [UploadError] (the whole file must be sent again) or
// [AuthError]. Missing import settings are [ConfigurationError] and never
// reach the server. A job that fails server-side surfaces as a [JobError] in
// [Job.Err]; single failed polls are never reported.
package importer
