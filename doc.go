// Package vecbuf is a buffered write-back index in front of a remote,
// eventually consistent approximate-nearest-neighbor service.
//
// Writes are appended to a durable buffer log of tuple ids and are
// searchable immediately. Every BatchSize tuples the log closes a
// checkpoint, and the flush pipeline uploads the finished batch to the
// remote collection. Searches combine the remote's top-k with an exact scan
// of the part of the log the remote has not confirmed as visible yet, so
// fresh writes are never missing from results and no tuple is reported
// twice.
//
// # Quick Start
//
//	cfg := vecbuf.DefaultConfig()
//	cfg.Name = "docs"
//	cfg.Dimensions = 768
//	cfg.Remote.Provider = "pinecone"
//	cfg.Remote.APIKey = os.Getenv("PINECONE_API_KEY")
//	cfg.Remote.Spec = map[string]string{"cloud": "aws", "region": "us-east-1"}
//
//	store, _ := pagestore.OpenLocal(ctx, "./buffer")
//	idx, _ := vecbuf.Create(ctx, cfg, store, base)
//	defer idx.Close()
//
//	id, _ := idx.InsertRecord(ctx, vec, map[string]any{"lang": "en"})
//	results, _ := idx.Search(ctx, query, vecbuf.WithLimit(10))
//
// # Checkpoints
//
// The buffer metadata tracks three checkpoints: latest (created), flush
// (uploaded) and ready (confirmed visible by the remote). Each search
// probes the representatives of the checkpoints between ready and flush
// and moves ready forward, so the local scan shrinks as the remote catches
// up.
//
// # Results
//
// Candidates carry an exact distance computed from the base record, lower
// is closer. Remote candidates additionally carry the provider's own score
// and are marked Approx. Every candidate is marked Recheck: the caller
// applies its own visibility rules to the base record.
//
// # Storage
//
// The page store is pluggable: pagestore.NewMemoryStore for tests,
// pagestore.OpenBadger, pagestore.OpenLocal for a directory of commit
// blobs, and pagestore.OpenBlob over S3 or MinIO.
package vecbuf
