// Package mesh owns the polygon mesh model used by the shape database.
//
// Responsibilities: Wavefront OBJ parsing and writing, basic geometry
// (bounds, area, volume, barycentre), pose normalisation and surface
// sampling. Key types: Vec3, Mesh.
//
// No descriptor or storage code is allowed in this package.
package mesh
