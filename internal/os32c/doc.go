// Package os32c implements the wire formats and scan geometry of the Omron
// OS32C safety laser scanner.
//
// BEAM GEOMETRY:
// The scanner measures 677 beams spaced 0.4 degrees apart. Beam 0 is the most
// counter-clockwise direction (+135.2 degrees) and beam indices increase
// clockwise, so beam 338 points straight ahead and beam 676 sits at -135.2
// degrees. Angles handled by this package use the usual robotics convention:
// radians, zero straight ahead, positive counter-clockwise.
//
// MEASUREMENT REPORTS (all fields little-endian):
// ├── Header (56 bytes) - scan counters, timing, safety status words, formats
// └── Payload - num_beams × u16 (plain report) or two such arrays back to back
//     (range array then reflectance array) for the range-and-reflectance read
//
// Raw range values 0x0001 (noisy beam) and 0xFFFF (no return) are sentinels and
// never represent a literal distance.
package os32c
