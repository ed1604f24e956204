// Package core provides the server-side logic of the chunked import service.
//
// This package contains the domain logic independent of HTTP. Storage is
// reached through small interfaces ([UploadStore], [ChunkSpool],
// [HistoryStore], [ReportStore], [RecordSink], [Locker]) with Redis,
// PostgreSQL, S3 and in-memory implementations under internal/storage.
//
// # Datasets
//
// Datasets are registered at init time using [Register]. Each [Dataset]
// carries field specs, the key column, an optional reference column and a
// function that builds a [Record] from a validated row:
//
//	core.Register(core.Dataset{
//	    Info: core.DatasetInfo{Key: "categories", Label: "Categories", KeyColumn: "code"},
//	    FieldSpecs: []core.FieldSpec{
//	        {Name: "code", Type: core.FieldText, Required: true},
//	        {Name: "name", Type: core.FieldText, Required: true},
//	    },
//	    Build: buildCategory,
//	})
//
// # Flow
//
//  1. [Service.CreateUpload] and [Service.AppendChunk] spool the file
//  2. [Service.StartImport] validates the configuration, leases the upload
//     and starts a background job bounded by the [JobLimiter]
//  3. The job counts rows, then validates and writes them in one transaction
//  4. Progress is broadcast to [Service.Subscribe] listeners and served by
//     [Service.Status]
//  5. Failed rows are written to a CSV report
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// See error_messages.go for the code table.
package core
