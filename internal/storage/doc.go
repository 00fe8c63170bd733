package storage

// Package storage persists the pipeline's small working state:
//   - Seen telegraph IDs (so only genuinely new items are pushed)
//   - Daily digest documents (the markdown archive)
