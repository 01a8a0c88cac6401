// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

const (
	PI = 3.1415926535897932 // Pi
)

// Defaults of the iteration driver
const (
	MAX_LOOP_COUNT = 100   // Maximum number of iterations
	REL_TOLERANCE  = 1e-9  // Stop when chi2 improves by less than this ratio
	ABS_TOLERANCE  = 1e-12 // Stop when chi2 falls below this value
)
